package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/platinummonkey/webcompile/pkg/compilation/orchestrator"
	"github.com/platinummonkey/webcompile/pkg/config"
	"github.com/platinummonkey/webcompile/pkg/deploy"
	"github.com/sirupsen/logrus"
)

// newPublisher is replaced in tests
var newPublisher = func(ctx context.Context, cfg deploy.Config, logger *logrus.Logger) (*deploy.Publisher, error) {
	client, err := deploy.NewS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return deploy.NewPublisher(client, cfg, logger)
}

func newPrecompileCommand() *Command {
	cmd := &Command{
		Name:        "precompile",
		Description: "Compile every unit of a site into a deployable directory",
		Flags:       flag.NewFlagSet("precompile", flag.ExitOnError),
		Run:         runPrecompile,
	}

	addSiteFlags(cmd.Flags)
	cmd.Flags.String("target", "", "Output directory for the precompiled site")
	cmd.Flags.Bool("for-deployment", true, "Keep assembly names stable across runs")
	cmd.Flags.String("exclude", "", "Comma-separated top-level directories to skip")
	cmd.Flags.String("publish-bucket", "", "Upload the precompiled site to this S3 bucket")
	cmd.Flags.String("publish-prefix", "", "Key prefix for the uploaded site")
	cmd.Flags.String("publish-version", "", "Version label for the upload (defaults to a timestamp)")

	return cmd
}

func runPrecompile(args []string) error {
	cmd := newPrecompileCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	target := flagValue(cmd.Flags, "target")
	if target == "" {
		return fmt.Errorf("target directory is required")
	}

	ctx := context.Background()
	a, logger, err := openApp(ctx, cmd.Flags, target)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("Precompiling %s into %s\n", a.Site.Root(), target)
	err = a.Manager.Precompile(ctx, orchestrator.PrecompileOptions{
		Target:        target,
		ForDeployment: flagBool(cmd.Flags, "for-deployment"),
		Excluded:      splitList(flagValue(cmd.Flags, "exclude")),
	})
	if err != nil {
		printBuildError(err)
		return fmt.Errorf("precompilation failed: %w", err)
	}
	fmt.Println("Precompilation succeeded")

	bucket := flagValue(cmd.Flags, "publish-bucket")
	if bucket == "" {
		return nil
	}
	return publish(ctx, a.Config, logger, target, bucket, flagValue(cmd.Flags, "publish-prefix"), flagValue(cmd.Flags, "publish-version"))
}

func publish(ctx context.Context, cfg *config.Config, logger *logrus.Logger, dir, bucket, prefix, version string) error {
	dc := deploy.Config{
		Bucket:       bucket,
		Prefix:       cfg.Deploy.S3Prefix,
		Region:       cfg.Deploy.S3Region,
		Endpoint:     cfg.Deploy.S3Endpoint,
		AccessKey:    cfg.Deploy.S3AccessKey,
		SecretKey:    cfg.Deploy.S3SecretKey,
		UsePathStyle: cfg.Deploy.S3UsePathStyle,
	}
	if prefix != "" {
		dc.Prefix = prefix
	}

	pub, err := newPublisher(ctx, dc, logger)
	if err != nil {
		return fmt.Errorf("failed to create publisher: %w", err)
	}
	manifest, err := pub.Publish(ctx, dir, version)
	if err != nil {
		return fmt.Errorf("failed to publish precompiled site: %w", err)
	}
	fmt.Printf("Published %d files to s3://%s/%s (sha256 %s)\n", len(manifest.Files), bucket, manifest.Key, manifest.Checksum)
	return nil
}
