// Package project manages audit projects and their documents and evaluates
// documents against the project's ruleset.
package project
