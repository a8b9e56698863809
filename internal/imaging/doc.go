// Package imaging provides the default decode and process collaborators:
// a multi-format decoder, a resize processor built on x/image/draw, and the
// standard equivalence delegate that derives the processing chain from a
// request's target size.
package imaging
