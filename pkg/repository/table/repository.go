package table

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/nimburion/backupstore/pkg/observability/logger"
	"github.com/nimburion/backupstore/pkg/observability/tracing"
	"github.com/nimburion/backupstore/pkg/resilience"
	dynamostore "github.com/nimburion/backupstore/pkg/store/dynamodb"
	"github.com/nimburion/backupstore/pkg/storeerr"
	"github.com/nimburion/backupstore/pkg/validate"
	"go.opentelemetry.io/otel/trace"
)

// Repository stores values of type T in one table.
type Repository[T any] struct {
	adapter *dynamostore.Adapter
	mapper  Mapper[T]
	config  Config
	log     logger.Logger
	now     func() time.Time

	mu          sync.RWMutex
	initialized bool
}

// New returns a repository over cfg.Table. Initialize must be called before any other
// operation.
func New[T any](adapter *dynamostore.Adapter, mapper Mapper[T], cfg Config, log logger.Logger) (*Repository[T], error) {
	if adapter == nil {
		return nil, storeerr.New(storeerr.ErrInvalidArgument, "dynamodb adapter is required")
	}
	if mapper == nil {
		return nil, storeerr.New(storeerr.ErrInvalidArgument, "entity mapper is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	cfg = cfg.normalize()
	return &Repository[T]{
		adapter: adapter,
		mapper:  mapper,
		config:  cfg,
		log:     log.With("table", cfg.Table),
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Table returns the table name.
func (r *Repository[T]) Table() string { return r.config.Table }

// Initialize validates the table name. With createIfMissing it also creates the table,
// retrying while the store reports it as being deleted or created until
// Config.CreateTimeout elapses.
func (r *Repository[T]) Initialize(ctx context.Context, createIfMissing bool) error {
	logger.Entered(r.log, "Initialize", "createIfMissing", createIfMissing)
	if err := validate.TableName(r.config.Table); err != nil {
		return err
	}
	if createIfMissing {
		if err := r.ensureTable(ctx); err != nil {
			r.log.Error("failed to create table", "error", err)
			return err
		}
	}

	r.mu.Lock()
	r.initialized = true
	r.mu.Unlock()
	return nil
}

func (r *Repository[T]) ensureTable(ctx context.Context) error {
	policy := resilience.RetryPolicy{
		InitialDelay: r.config.CreateRetryDelay,
		MaxDelay:     8 * r.config.CreateRetryDelay,
		Deadline:     r.config.CreateTimeout,
	}
	return resilience.RetryUntil(ctx, policy, func(ctx context.Context) (bool, error) {
		out, err := r.adapter.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(r.config.Table)})
		if err == nil {
			return r.pending(out.Table)
		}
		if !storeerr.IsNotFound(err) {
			return dynamostore.IsThrottlingError(err), err
		}

		created, err := r.adapter.CreateTable(ctx, createTableInput(r.config.Table))
		if err != nil {
			var inUse *types.ResourceInUseException
			if errors.As(err, &inUse) {
				r.log.Warn("table is being deleted, retrying creation", "error", err)
				return true, err
			}
			return dynamostore.IsThrottlingError(err), err
		}
		r.log.Info("table created")
		return r.pending(created.TableDescription)
	})
}

// pending reports whether desc describes a table that cannot be used yet.
func (r *Repository[T]) pending(desc *types.TableDescription) (bool, error) {
	if desc == nil {
		return false, nil
	}
	switch desc.TableStatus {
	case types.TableStatusDeleting, types.TableStatusCreating:
		return true, storeerr.Newf(storeerr.ErrRetryable, "table %s is %s", r.config.Table, strings.ToLower(string(desc.TableStatus)))
	default:
		return false, nil
	}
}

func createTableInput(name string) *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		TableName: aws.String(name),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(PartitionKeyAttribute), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(RowKeyAttribute), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(PartitionKeyAttribute), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(RowKeyAttribute), KeyType: types.KeyTypeRange},
		},
		BillingMode: types.BillingModePayPerRequest,
	}
}

// Get returns the entity stored under the given keys. A missing entity or table yields
// found=false and a nil error.
func (r *Repository[T]) Get(ctx context.Context, partitionKey, rowKey string) (T, bool, error) {
	logger.Entered(r.log, "Get", "partitionKey", partitionKey, "rowKey", rowKey)
	var zero T
	if err := r.ready("Get"); err != nil {
		return zero, false, err
	}
	if err := validateKey(partitionKey, rowKey); err != nil {
		return zero, false, err
	}

	ctx, span := r.span(ctx, tracing.SpanOperationTableRead, tracing.WithKey(partitionKey+"/"+rowKey))
	out, err := r.adapter.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.config.Table),
		Key:       keyOf(partitionKey, rowKey),
	})
	if err != nil {
		if storeerr.IsNotFound(err) {
			tracing.End(span, nil)
			return zero, false, nil
		}
		tracing.End(span, err)
		r.log.Error("failed to get entity", "partitionKey", partitionKey, "rowKey", rowKey, "error", err)
		return zero, false, err
	}
	tracing.End(span, nil)
	if len(out.Item) == 0 {
		return zero, false, nil
	}
	value, err := r.mapper.FromItem(out.Item)
	if err != nil {
		return zero, false, fmt.Errorf("decode entity: %w", err)
	}
	return value, true, nil
}

// Exists reports whether an entity is stored under the given keys.
func (r *Repository[T]) Exists(ctx context.Context, partitionKey, rowKey string) (bool, error) {
	logger.Entered(r.log, "Exists", "partitionKey", partitionKey, "rowKey", rowKey)
	if err := r.ready("Exists"); err != nil {
		return false, err
	}
	if err := validateKey(partitionKey, rowKey); err != nil {
		return false, err
	}
	out, err := r.adapter.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(r.config.Table),
		Key:                      keyOf(partitionKey, rowKey),
		ProjectionExpression:     aws.String("#pk"),
		ExpressionAttributeNames: map[string]string{"#pk": PartitionKeyAttribute},
	})
	if err != nil {
		if storeerr.IsNotFound(err) {
			return false, nil
		}
		r.log.Error("failed to check entity", "partitionKey", partitionKey, "rowKey", rowKey, "error", err)
		return false, err
	}
	return len(out.Item) > 0, nil
}

// GetAll returns every entity in the table. When ctx is cancelled the entities read
// so far are returned together with ctx.Err().
func (r *Repository[T]) GetAll(ctx context.Context) ([]T, error) {
	logger.Entered(r.log, "GetAll")
	if err := r.ready("GetAll"); err != nil {
		return nil, err
	}
	return r.collect(ctx, query{})
}

// Query returns the entities matching filter. A partition key equality filter runs as
// a partition query, any other filter as a filtered scan. When ctx is cancelled the
// entities read so far are returned together with ctx.Err().
func (r *Repository[T]) Query(ctx context.Context, filter Filter) ([]T, error) {
	logger.Entered(r.log, "Query", "filter", filter.String())
	if err := r.ready("Query"); err != nil {
		return nil, err
	}
	q, err := planQuery(filter)
	if err != nil {
		return nil, err
	}
	return r.collect(ctx, q)
}

// GetByPartitionKey returns every entity in one partition, ordered by row key.
func (r *Repository[T]) GetByPartitionKey(ctx context.Context, partitionKey string) ([]T, error) {
	logger.Entered(r.log, "GetByPartitionKey", "partitionKey", partitionKey)
	if err := r.ready("GetByPartitionKey"); err != nil {
		return nil, err
	}
	if err := validateKeyValue(PartitionKeyAttribute, partitionKey); err != nil {
		return nil, err
	}
	return r.collect(ctx, query{key: &Filter{Field: PartitionKeyAttribute, Op: Equal, Value: partitionKey}})
}

// GetByRowKey returns the entities sharing rowKey across all partitions.
func (r *Repository[T]) GetByRowKey(ctx context.Context, rowKey string) ([]T, error) {
	logger.Entered(r.log, "GetByRowKey", "rowKey", rowKey)
	if err := r.ready("GetByRowKey"); err != nil {
		return nil, err
	}
	if err := validateKeyValue(RowKeyAttribute, rowKey); err != nil {
		return nil, err
	}
	return r.collect(ctx, query{filter: &Filter{Field: RowKeyAttribute, Op: Equal, Value: rowKey}})
}

func (r *Repository[T]) collect(ctx context.Context, q query) ([]T, error) {
	ctx, span := r.span(ctx, tracing.SpanOperationTableRead)
	var results []T
	err := r.pages(ctx, q, r.config.PageSize, func(items []Item) error {
		for _, item := range items {
			value, err := r.mapper.FromItem(item)
			if err != nil {
				return fmt.Errorf("decode entity: %w", err)
			}
			results = append(results, value)
		}
		return nil
	})
	tracing.End(span, err)
	return results, err
}

// Set stores value, overwriting any entity with the same keys, and returns it as
// stored with its new ETag and Timestamp.
func (r *Repository[T]) Set(ctx context.Context, value T) (T, error) {
	logger.Entered(r.log, "Set")
	var zero T
	if err := r.ready("Set"); err != nil {
		return zero, err
	}
	item, partitionKey, rowKey, err := r.prepare(value, r.now())
	if err != nil {
		return zero, err
	}

	ctx, span := r.span(ctx, tracing.SpanOperationTableWrite, tracing.WithKey(partitionKey+"/"+rowKey))
	_, err = r.adapter.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(r.config.Table), Item: item})
	tracing.End(span, err)
	if err != nil {
		r.log.Error("failed to store entity", "partitionKey", partitionKey, "rowKey", rowKey, "error", err)
		return zero, err
	}
	return r.mapper.FromItem(item)
}

// Update merges properties into the entity stored under the given keys and returns
// the updated entity. A missing entity yields a nil result and a nil error. Key
// attributes cannot be updated.
func (r *Repository[T]) Update(ctx context.Context, partitionKey, rowKey string, properties map[string]types.AttributeValue) (*T, error) {
	logger.Entered(r.log, "Update", "partitionKey", partitionKey, "rowKey", rowKey)
	if err := r.ready("Update"); err != nil {
		return nil, err
	}
	if err := validateKey(partitionKey, rowKey); err != nil {
		return nil, err
	}
	if len(properties) == 0 {
		return nil, storeerr.New(storeerr.ErrInvalidArgument, "at least one property is required")
	}

	merged := make(map[string]types.AttributeValue, len(properties)+2)
	for name, value := range properties {
		if name == PartitionKeyAttribute || name == RowKeyAttribute {
			return nil, storeerr.Newf(storeerr.ErrInvalidArgument, "key attribute %s cannot be updated", name)
		}
		if strings.TrimSpace(name) == "" || value == nil {
			return nil, storeerr.Newf(storeerr.ErrInvalidArgument, "property %q has no name or value", name)
		}
		merged[name] = value
	}
	merged[ETagAttribute] = String(uuid.NewString())
	merged[TimestampAttribute] = Time(r.now())

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	exprNames := map[string]string{"#pk": PartitionKeyAttribute}
	exprValues := make(map[string]types.AttributeValue, len(merged))
	assignments := make([]string, 0, len(merged))
	for i, name := range names {
		slot := fmt.Sprintf("u%d", i)
		exprNames["#"+slot] = name
		exprValues[":"+slot] = merged[name]
		assignments = append(assignments, "#"+slot+" = :"+slot)
	}

	ctx, span := r.span(ctx, tracing.SpanOperationTableWrite, tracing.WithKey(partitionKey+"/"+rowKey))
	out, err := r.adapter.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.config.Table),
		Key:                       keyOf(partitionKey, rowKey),
		UpdateExpression:          aws.String("SET " + strings.Join(assignments, ", ")),
		ConditionExpression:       aws.String("attribute_exists(#pk)"),
		ExpressionAttributeNames:  exprNames,
		ExpressionAttributeValues: exprValues,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var failed *types.ConditionalCheckFailedException
		if errors.As(err, &failed) || storeerr.IsNotFound(err) {
			tracing.End(span, nil)
			return nil, nil
		}
		tracing.End(span, err)
		r.log.Error("failed to update entity", "partitionKey", partitionKey, "rowKey", rowKey, "error", err)
		return nil, err
	}
	tracing.End(span, nil)

	value, err := r.mapper.FromItem(out.Attributes)
	if err != nil {
		return nil, fmt.Errorf("decode entity: %w", err)
	}
	return &value, nil
}

// Delete removes the entity stored under the given keys. It returns false when nothing
// was stored.
func (r *Repository[T]) Delete(ctx context.Context, partitionKey, rowKey string) (bool, error) {
	logger.Entered(r.log, "Delete", "partitionKey", partitionKey, "rowKey", rowKey)
	if err := r.ready("Delete"); err != nil {
		return false, err
	}
	if err := validateKey(partitionKey, rowKey); err != nil {
		return false, err
	}

	ctx, span := r.span(ctx, tracing.SpanOperationTableDelete, tracing.WithKey(partitionKey+"/"+rowKey))
	out, err := r.adapter.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(r.config.Table),
		Key:          keyOf(partitionKey, rowKey),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		if storeerr.IsNotFound(err) {
			tracing.End(span, nil)
			return false, nil
		}
		tracing.End(span, err)
		r.log.Error("failed to delete entity", "partitionKey", partitionKey, "rowKey", rowKey, "error", err)
		return false, err
	}
	tracing.End(span, nil)
	return len(out.Attributes) > 0, nil
}

// TableIsEmpty reports whether the table holds no entity with a non-empty partition
// key. A missing table is empty.
func (r *Repository[T]) TableIsEmpty(ctx context.Context) (bool, error) {
	logger.Entered(r.log, "TableIsEmpty")
	if err := r.ready("TableIsEmpty"); err != nil {
		return false, err
	}
	empty := true
	errFound := errors.New("entity found")
	err := r.pages(ctx, query{filter: &Filter{Field: PartitionKeyAttribute, Op: NotEqual, Value: ""}}, 1, func(items []Item) error {
		if len(items) > 0 {
			empty = false
			return errFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, errFound) {
		return false, err
	}
	return empty, nil
}

// TableExists reports whether the table exists and is not being deleted.
func (r *Repository[T]) TableExists(ctx context.Context) (bool, error) {
	logger.Entered(r.log, "TableExists")
	if err := r.ready("TableExists"); err != nil {
		return false, err
	}
	out, err := r.adapter.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(r.config.Table)})
	if err != nil {
		if storeerr.IsNotFound(err) {
			return false, nil
		}
		r.log.Error("failed to describe table", "error", err)
		return false, err
	}
	return out.Table == nil || out.Table.TableStatus != types.TableStatusDeleting, nil
}

// DeleteTable deletes the table. It returns false when the table did not exist. The
// repository must be initialized again before reuse.
func (r *Repository[T]) DeleteTable(ctx context.Context) (bool, error) {
	logger.Entered(r.log, "DeleteTable")
	if err := r.ready("DeleteTable"); err != nil {
		return false, err
	}

	ctx, span := r.span(ctx, tracing.SpanOperationTableDelete)
	_, err := r.adapter.DeleteTable(ctx, &dynamodb.DeleteTableInput{TableName: aws.String(r.config.Table)})
	if err != nil {
		if storeerr.IsNotFound(err) {
			tracing.End(span, nil)
			return false, nil
		}
		tracing.End(span, err)
		r.log.Error("failed to delete table", "error", err)
		return false, err
	}
	tracing.End(span, nil)

	r.mu.Lock()
	r.initialized = false
	r.mu.Unlock()
	return true, nil
}

// prepare maps value to an item stamped with a fresh ETag and the write time.
func (r *Repository[T]) prepare(value T, now time.Time) (Item, string, string, error) {
	item, err := r.mapper.ToItem(value)
	if err != nil {
		return nil, "", "", storeerr.Wrap(storeerr.ErrInvalidArgument, "map entity", err)
	}
	partitionKey, rowKey := StringOf(item, PartitionKeyAttribute), StringOf(item, RowKeyAttribute)
	if err := validateKey(partitionKey, rowKey); err != nil {
		return nil, "", "", err
	}
	item[ETagAttribute] = String(uuid.NewString())
	item[TimestampAttribute] = Time(now)
	return item, partitionKey, rowKey, nil
}

func (r *Repository[T]) span(ctx context.Context, op tracing.SpanOperation, opts ...tracing.StorageSpanOption) (context.Context, trace.Span) {
	opts = append([]tracing.StorageSpanOption{tracing.WithSystem("dynamodb"), tracing.WithContainer(r.config.Table)}, opts...)
	return tracing.StartStorageSpan(ctx, op, opts...)
}

func (r *Repository[T]) ready(op string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.initialized {
		return storeerr.Uninitialized(op, "table")
	}
	return nil
}

func validateKey(partitionKey, rowKey string) error {
	if err := validateKeyValue(PartitionKeyAttribute, partitionKey); err != nil {
		return err
	}
	return validateKeyValue(RowKeyAttribute, rowKey)
}

func validateKeyValue(field, value string) error {
	if value == "" {
		return storeerr.Newf(storeerr.ErrInvalidArgument, "%s is required", field)
	}
	return validate.PropertyValue(field, value)
}
