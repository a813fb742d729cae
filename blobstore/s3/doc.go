// Package s3 implements blobstore.BlobStore on Amazon S3.
//
// Every blob is one object under an optional root prefix. Reads use ranged
// GetObject requests, writes a single PutObject, which is atomic for readers.
//
//	cfg, _ := config.LoadDefaultConfig(ctx)
//	store := s3.NewStore(awss3.NewFromConfig(cfg), "my-bucket", "actoridx/")
package s3
