// Package archive unpacks release zips and filesystem tarballs.
//
// Zip archives keep their unix modes. Tarballs may be gzip or xz
// compressed; the codec is picked from the file name. Entries that would
// land outside the destination directory are rejected.
package archive
