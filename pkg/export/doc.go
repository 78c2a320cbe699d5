// Package export turns the sampling tool's delimited output into time-series
// points and delivers them to the database in bounded batches. This is the
// performance-critical path: archives can hold millions of rows, so lines are
// consumed as the tool produces them and never buffered whole.
package export
