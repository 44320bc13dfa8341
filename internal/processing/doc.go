// Package processing turns raw feed entries into documents ready for the
// vector collection.
package processing
