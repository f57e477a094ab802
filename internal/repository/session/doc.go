// Package session persists the operator's choices between restarts.
//
// The FileRepository stores the selected board, version and the set of
// checked location ids as YAML. Enumerated device details are not stored:
// they are rebuilt by the first registry refresh.
package session
