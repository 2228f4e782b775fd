package memory

import "github.com/sourcegit-oss/packvault/plumbing/hash"

type options struct {
	objectFormat hash.ObjectFormat
}

func newOptions() options {
	return options{objectFormat: hash.SHA1}
}

// StorageOption configures a Storage at construction time.
type StorageOption func(*options)

// WithObjectFormat records f as the storage's object format (SHA1 by
// default). Objects returned by NewEncodedObject do not take it on: they
// are hashed as SHA1 whatever format is recorded.
func WithObjectFormat(f hash.ObjectFormat) StorageOption {
	return func(o *options) { o.objectFormat = f }
}
