// Package detectors runs the rules of a snapshot against a response body and
// reports each hit as a types.Match ordered by position in the body.
package detectors
