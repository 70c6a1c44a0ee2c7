// Package solution reconciles uploaded ground-truth files with project
// documents.
//
// A solution file is parsed into entries (Parse), matched against the
// project's documents (Match), previewed without side effects
// (Service.Preview) and applied at most once (Service.Apply). Applying
// writes a Correction for every value that differs from what was
// extracted and, optionally, training examples.
//
// Matching runs three passes over valid entries, each consuming a document
// and an entry at most once:
//
//	FILENAME           equal base filename (1.0) or equal stem (0.95)
//	FILENAME_POSITION  related stems and equal position (0.8)
//	POSITION_ONLY      equal position (0.5)
//
// Filenames are compared after NFC normalisation and case folding.
package solution
