// Package pipeline turns job types into separation plans and runs them
// against the engine.
//
// A plan is an ordered list of passes. Each pass feeds one artifact (the job
// input or a stem from an earlier pass) through a model and names the stems
// it produces. The four-pass refine chain splits vocals from the
// instrumental, lead from backing vocals, then strips reverb and noise from
// the lead vocal. Results are recorded in a Manifest that rides on the queue
// record between the separation and delivery stages.
package pipeline
