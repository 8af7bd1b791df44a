// Package intake materializes job input into the staging workspace.
//
// Separation jobs arrive with inline base64 audio or a source URL; intake
// validates the request, enforces the payload cap, and stages the audio
// file under the job's workspace directory. Catalog jobs (list_models)
// never reach the engine: intake answers them directly and marks the job
// completed.
package intake
