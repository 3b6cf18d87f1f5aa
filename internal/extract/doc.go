// Package extract pulls the case-count table and the "last updated" timestamp
// out of the RKI Fallzahlen page. It targets one fixed layout and fails with a
// *rki.ParseError when that layout is not found.
package extract
