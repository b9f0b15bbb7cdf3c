// Package version decides which CRI-O build to install.
//
// Resolution is strictly ordered. An explicit identifier wins without any
// network access. Otherwise the published latest-main.txt marker is read
// from the bucket, and when that is absent the GitHub Actions run list is
// paged, newest first, until a successful "test" run on main appears.
// Paging stops after MaxPages pages.
package version
