// Package deploy publishes precompiled sites to S3 compatible object storage.
//
//	client, err := deploy.NewS3Client(ctx, cfg)
//	publisher, err := deploy.NewPublisher(client, cfg, logger)
//	manifest, err := publisher.Publish(ctx, "/tmp/site-precompiled", "")
//
// Each publish writes <prefix>/<version>/site.tar.gz with a sha256 checksum
// in the object metadata and rewrites <prefix>/latest to hold the version.
package deploy
