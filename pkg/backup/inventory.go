// Package backup copies a list of local files into object storage and keeps their
// inventory in a table. It is a thin caller of the storage core: discovering the files
// and scheduling runs is left to the caller.
package backup

import (
	"time"

	"github.com/nimburion/backupstore/pkg/repository/rowkey"
	"github.com/nimburion/backupstore/pkg/repository/table"
)

// Inventory attribute names.
const (
	idAttribute           = "Id"
	fileNameAttribute     = "FileName"
	modifiedDateAttribute = "ModifiedDate"
)

// FileInformation is one inventory entry. ID mirrors the row key.
type FileInformation struct {
	table.Entity
	ID           string
	FileName     string
	ModifiedDate time.Time
}

// NewFileInformation returns an entry for path in the default partition with a unique
// reverse-chronological row key.
func NewFileInformation(path string, now time.Time) FileInformation {
	key := rowkey.WithRandomSuffix(now)
	return FileInformation{
		Entity:       table.Entity{PartitionKey: table.DefaultPartitionKey, RowKey: key},
		ID:           key,
		FileName:     path,
		ModifiedDate: now.UTC(),
	}
}

// FileInformationMapper maps FileInformation to table items.
type FileInformationMapper struct{}

// ToItem implements table.Mapper.
func (FileInformationMapper) ToItem(f FileInformation) (table.Item, error) {
	item := f.Entity.Item()
	item[idAttribute] = table.String(f.RowKey)
	item[fileNameAttribute] = table.String(f.FileName)
	item[modifiedDateAttribute] = table.Time(f.ModifiedDate)
	return item, nil
}

// FromItem implements table.Mapper.
func (FileInformationMapper) FromItem(item table.Item) (FileInformation, error) {
	entity, err := table.EntityFrom(item)
	if err != nil {
		return FileInformation{}, err
	}
	modified, err := table.TimeOf(item, modifiedDateAttribute)
	if err != nil {
		return FileInformation{}, err
	}
	id := table.StringOf(item, idAttribute)
	if id == "" {
		id = entity.RowKey
	}
	return FileInformation{
		Entity:       entity,
		ID:           id,
		FileName:     table.StringOf(item, fileNameAttribute),
		ModifiedDate: modified,
	}, nil
}
