// Package sources implements archiver.ContentSource for the supported sites:
// JSON APIs (MangaDex, MangaFlix) and Madara-style HTML sites scraped with
// goquery. A Registry keeps them in lookup order.
package sources
