package table

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/nimburion/backupstore/pkg/observability/logger"
	"github.com/nimburion/backupstore/pkg/observability/tracing"
	"github.com/nimburion/backupstore/pkg/storeerr"
	"golang.org/x/sync/errgroup"
)

// query selects items either through a partition key condition or a scan, optionally
// narrowed by a filter.
type query struct {
	key    *Filter
	filter *Filter
}

func planQuery(f Filter) (query, error) {
	if err := f.Validate(); err != nil {
		return query{}, err
	}
	if f.isPartitionLookup() {
		return query{key: &f}, nil
	}
	return query{filter: &f}, nil
}

// pages hands every page of q to visit until the continuation key is exhausted. A
// missing table reads as empty. When ctx is cancelled no further page is requested and
// ctx.Err() is returned.
func (r *Repository[T]) pages(ctx context.Context, q query, limit int32, visit func([]Item) error) error {
	var start Item
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		items, next, err := r.readPage(ctx, q, start, limit)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if storeerr.IsNotFound(err) {
				return nil
			}
			r.log.Error("failed to read table page", "error", err)
			return err
		}
		if err := visit(items); err != nil {
			return err
		}
		if len(next) == 0 {
			return nil
		}
		start = next
	}
}

func (r *Repository[T]) readPage(ctx context.Context, q query, start Item, limit int32) ([]Item, Item, error) {
	names := map[string]string{}
	values := map[string]types.AttributeValue{}

	var filterExpr *string
	if q.filter != nil {
		expr, err := q.filter.render("f", names, values)
		if err != nil {
			return nil, nil, err
		}
		filterExpr = aws.String(expr)
	}
	var limitPtr *int32
	if limit > 0 {
		limitPtr = aws.Int32(limit)
	}

	if q.key != nil {
		keyExpr, err := q.key.render("k", names, values)
		if err != nil {
			return nil, nil, err
		}
		out, err := r.adapter.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(r.config.Table),
			KeyConditionExpression:    aws.String(keyExpr),
			FilterExpression:          filterExpr,
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
			ExclusiveStartKey:         start,
			Limit:                     limitPtr,
		})
		if err != nil {
			return nil, nil, err
		}
		return out.Items, out.LastEvaluatedKey, nil
	}

	input := &dynamodb.ScanInput{
		TableName:         aws.String(r.config.Table),
		FilterExpression:  filterExpr,
		ExclusiveStartKey: start,
		Limit:             limitPtr,
	}
	if len(names) > 0 {
		input.ExpressionAttributeNames = names
		input.ExpressionAttributeValues = values
	}
	out, err := r.adapter.Scan(ctx, input)
	if err != nil {
		return nil, nil, err
	}
	return out.Items, out.LastEvaluatedKey, nil
}

// keyedWrite is one transactional write with the keys it targets.
type keyedWrite struct {
	partitionKey string
	rowKey       string
	write        types.TransactWriteItem
}

// batch is a set of writes within one partition submitted as one transaction.
type batch struct {
	partitionKey string
	writes       []types.TransactWriteItem
}

// planBatches groups writes by partition in first-seen order and splits every
// partition into chunks of at most size. Repeated keys within a partition keep the
// last write at the position of the first.
func planBatches(writes []keyedWrite, size int) []batch {
	type group struct {
		partitionKey string
		rows         map[string]int
		writes       []types.TransactWriteItem
	}
	var order []*group
	groups := make(map[string]*group)
	for _, w := range writes {
		g, ok := groups[w.partitionKey]
		if !ok {
			g = &group{partitionKey: w.partitionKey, rows: make(map[string]int)}
			groups[w.partitionKey] = g
			order = append(order, g)
		}
		if i, dup := g.rows[w.rowKey]; dup {
			g.writes[i] = w.write
			continue
		}
		g.rows[w.rowKey] = len(g.writes)
		g.writes = append(g.writes, w.write)
	}

	var batches []batch
	for _, g := range order {
		for start := 0; start < len(g.writes); start += size {
			end := min(start+size, len(g.writes))
			batches = append(batches, batch{partitionKey: g.partitionKey, writes: g.writes[start:end]})
		}
	}
	return batches
}

// runBatches submits every batch concurrently and waits for all of them. Batches are
// not cancelled by ctx once dispatched, and a failed batch does not stop the others.
// The failures are joined into the returned error.
func (r *Repository[T]) runBatches(ctx context.Context, operation string, batches []batch) error {
	ctx = context.WithoutCancel(ctx)
	errs := make([]error, len(batches))

	var g errgroup.Group
	if r.config.BatchParallelism > 0 {
		g.SetLimit(r.config.BatchParallelism)
	}
	for i, b := range batches {
		g.Go(func() error {
			_, err := r.adapter.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: b.writes})
			recordBatch(r.config.Table, operation, len(b.writes), err)
			if err != nil {
				r.log.Error("table batch failed", "operation", operation, "partitionKey", b.partitionKey, "items", len(b.writes), "error", err)
				errs[i] = fmt.Errorf("%s batch for partition %q: %w", operation, b.partitionKey, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// SetMany stores values, overwriting entities with the same keys. Values are grouped
// by partition key and written in atomic batches of at most MaxBatchSize. All batches
// run concurrently and SetMany returns once every batch has completed; any failed
// batch fails the call while the others stay committed. It returns the number of
// batches submitted.
func (r *Repository[T]) SetMany(ctx context.Context, values []T) (int, error) {
	logger.Entered(r.log, "SetMany", "count", len(values))
	if err := r.ready("SetMany"); err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, nil
	}

	now := r.now()
	writes := make([]keyedWrite, 0, len(values))
	for _, value := range values {
		item, partitionKey, rowKey, err := r.prepare(value, now)
		if err != nil {
			return 0, err
		}
		writes = append(writes, keyedWrite{
			partitionKey: partitionKey,
			rowKey:       rowKey,
			write:        types.TransactWriteItem{Put: &types.Put{TableName: aws.String(r.config.Table), Item: item}},
		})
	}
	batches := planBatches(writes, MaxBatchSize)

	ctx, span := r.span(ctx, tracing.SpanOperationTableBatch, tracing.WithItemCount(len(values)))
	err := r.runBatches(ctx, "put", batches)
	tracing.End(span, err)
	return len(batches), err
}

// DeleteAll removes every entity and returns how many were deleted.
func (r *Repository[T]) DeleteAll(ctx context.Context) (int, error) {
	logger.Entered(r.log, "DeleteAll")
	if err := r.ready("DeleteAll"); err != nil {
		return 0, err
	}
	return r.deleteMatching(ctx, query{})
}

// DeleteByPartitionKey removes every entity in one partition.
func (r *Repository[T]) DeleteByPartitionKey(ctx context.Context, partitionKey string) (int, error) {
	logger.Entered(r.log, "DeleteByPartitionKey", "partitionKey", partitionKey)
	if err := r.ready("DeleteByPartitionKey"); err != nil {
		return 0, err
	}
	if err := validateKeyValue(PartitionKeyAttribute, partitionKey); err != nil {
		return 0, err
	}
	return r.deleteMatching(ctx, query{key: &Filter{Field: PartitionKeyAttribute, Op: Equal, Value: partitionKey}})
}

// DeleteByRowKey removes the entities sharing rowKey across all partitions.
func (r *Repository[T]) DeleteByRowKey(ctx context.Context, rowKey string) (int, error) {
	logger.Entered(r.log, "DeleteByRowKey", "rowKey", rowKey)
	if err := r.ready("DeleteByRowKey"); err != nil {
		return 0, err
	}
	if err := validateKeyValue(RowKeyAttribute, rowKey); err != nil {
		return 0, err
	}
	return r.deleteMatching(ctx, query{filter: &Filter{Field: RowKeyAttribute, Op: Equal, Value: rowKey}})
}

// DeleteWhere removes the entities matching filter.
func (r *Repository[T]) DeleteWhere(ctx context.Context, filter Filter) (int, error) {
	logger.Entered(r.log, "DeleteWhere", "filter", filter.String())
	if err := r.ready("DeleteWhere"); err != nil {
		return 0, err
	}
	q, err := planQuery(filter)
	if err != nil {
		return 0, err
	}
	return r.deleteMatching(ctx, q)
}

// deleteMatching reads DeletePageSize items at a time and deletes each page in
// partition batches before reading the next. Cancellation stops further reads; a page
// already being deleted completes.
func (r *Repository[T]) deleteMatching(ctx context.Context, q query) (int, error) {
	ctx, span := r.span(ctx, tracing.SpanOperationTableDelete)
	deleted := 0
	err := r.pages(ctx, q, DeletePageSize, func(items []Item) error {
		if len(items) == 0 {
			return nil
		}
		writes := make([]keyedWrite, 0, len(items))
		for _, item := range items {
			partitionKey, rowKey := StringOf(item, PartitionKeyAttribute), StringOf(item, RowKeyAttribute)
			writes = append(writes, keyedWrite{
				partitionKey: partitionKey,
				rowKey:       rowKey,
				write: types.TransactWriteItem{Delete: &types.Delete{
					TableName: aws.String(r.config.Table),
					Key:       keyOf(partitionKey, rowKey),
				}},
			})
		}
		if err := r.runBatches(ctx, "delete", planBatches(writes, MaxBatchSize)); err != nil {
			return err
		}
		deleted += len(items)
		return nil
	})
	tracing.End(span, err)
	if err != nil {
		r.log.Error("bulk delete stopped", "deleted", deleted, "error", err)
	}
	return deleted, err
}
