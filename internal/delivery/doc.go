// Package delivery hands finished stems back to the caller. It validates the
// manifest's final artifacts, then either inlines them as base64 or uploads
// them through the configured object store and returns fetchable URLs.
package delivery
