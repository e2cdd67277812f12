// Package pipeline processes one work item end to end.
//
// A Pipeline runs named steps in order over a Job. The page pipeline built
// by NewProcessor checks the page budget, fetches the page through the
// headless renderer or a static GET, marks it visited, sanitizes and
// analyzes the content, persists the record, applies the link policy to
// the discovered links and finally emits progress events.
//
// Link policy checks run concurrently on a bounded errgroup, since each of
// them may wait on a robots.txt lookup.
package pipeline
