package objstore

import "time"

// RemoteFile is one object under a project prefix, as seen in a listing.
type RemoteFile struct {
	// RelOriginal is the original-case RelKey from the listing; local writes
	// preserve this casing.
	RelOriginal string

	// RealKey is the full object key including the project prefix.
	RealKey string

	LastModified time.Time
	Size         int64
	ETag         string
}

// Config for the S3 client. Credentials resolve through the default AWS
// chain unless AccessKey/SecretKey are set.
type Config struct {
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Endpoint  string
	Layout    Layout
}
