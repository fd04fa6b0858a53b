package object

const (
	defaultListParallelism = 8
	defaultPageSize        = 1000
)

// Config configures an object repository.
type Config struct {
	// Container is the bucket holding the repository's objects.
	Container string `mapstructure:"container"`
	// PublicRead makes objects anonymously readable at container level. This is a
	// convenience for serving backups, not an access control boundary.
	PublicRead bool `mapstructure:"public_read"`
	// ListParallelism bounds concurrent downloads while listing.
	ListParallelism int `mapstructure:"list_parallelism"`
	// PageSize is the listing page size requested from the store.
	PageSize int32 `mapstructure:"page_size"`
}

// DefaultConfig returns the configuration used when only a container is known.
func DefaultConfig(container string) Config {
	return Config{
		Container:       container,
		PublicRead:      true,
		ListParallelism: defaultListParallelism,
		PageSize:        defaultPageSize,
	}
}

func (c Config) normalize() Config {
	if c.ListParallelism <= 0 {
		c.ListParallelism = defaultListParallelism
	}
	if c.PageSize <= 0 || c.PageSize > defaultPageSize {
		c.PageSize = defaultPageSize
	}
	return c
}
