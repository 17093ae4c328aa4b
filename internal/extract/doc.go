// Package extract recursively decomposes a zip archive and rehomes every
// file in it.
//
// Each archive level is walked once, in archive order, on the extraction
// pool. Directories become nodes immediately. Every file is drained to a
// temp file first. A ".zip" file then becomes a child level, and any other
// file is stored through the upload pool. A level waits for all of its
// children before it reports, so a parent result is only visible once its
// whole subtree is done.
//
// Failures are all or nothing per Extract call: the caller gets one
// *EntryError and no tree. Every temp file is removed on every path,
// successful or not.
package extract
