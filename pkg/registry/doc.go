// Package registry holds the named host commands that RunCallback actions invoke.
package registry
