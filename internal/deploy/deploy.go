// Package deploy defines the seam between the CLI's `deploy` subcommand
// and whatever actually talks to AWS. Shipping a real deploy path means
// packaging the compiled binary, creating or updating a Lambda function
// and its IAM role, and polling until the update settles — all of it
// out of this repo's scope. RemoteClient is shaped after the AWS SDK's
// own Lambda client method surface so a real implementation built on
// aws-sdk-go-v2 is a drop-in rather than a rewrite.
package deploy

import "context"

// Package is what the `build` step hands to `deploy`: an already
// zipped function artifact, grounded on archive.Archive.
type Package struct {
	FunctionName string
	ZipPath      string
	Architecture string
	Handler      string
}

// RemoteClient is the out-of-scope collaborator a production deploy
// command would drive.
type RemoteClient interface {
	// CreateOrUpdateFunction uploads pkg, creating the function if it
	// doesn't exist yet or updating its code otherwise, and returns its
	// ARN once the update has settled.
	CreateOrUpdateFunction(ctx context.Context, pkg Package) (arn string, err error)

	// Invoke calls the deployed function synchronously and returns its
	// raw response payload, mirroring the direct Invoke API the local
	// emulator's trigger protocol also implements.
	Invoke(ctx context.Context, functionName string, payload []byte) ([]byte, error)
}
