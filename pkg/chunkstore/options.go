package chunkstore

// Option adjusts a single chunk operation.
type Option func(*opOptions)

type opOptions struct {
	sourceID   string
	sourceName string
	name       string
	progress   func(pct float64)
}

func applyOptions(opts []Option) opOptions {
	var o opOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithSource scopes the operation to a named sub-source of the dataset
// instead of its primary rows. name is recorded on writes and may be empty.
func WithSource(id, name string) Option {
	return func(o *opOptions) {
		o.sourceID = id
		o.sourceName = name
	}
}

// WithName sets the dataset display name on BatchInsert.
func WithName(name string) Option {
	return func(o *opOptions) { o.name = name }
}

// WithProgress receives the completion percentage (0-100) after each chunk
// written by BatchInsert or Append.
func WithProgress(fn func(pct float64)) Option {
	return func(o *opOptions) { o.progress = fn }
}

func (o opOptions) report(pct float64) {
	if o.progress != nil {
		o.progress(pct)
	}
}
