// Package archive streams fetched pages into deflate-compressed zip (.cbz) archives.
//
// A Handle is owned by a single worker. Each Write compresses and appends one
// entry immediately, so memory use is bounded by one page regardless of the
// archive size. The finished bytes live either in memory or in a spooled
// temporary file; both backings produce the same zip layout.
package archive
