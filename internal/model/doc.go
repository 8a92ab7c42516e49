// Package model defines the data shared by every stage of a recovery run.
//
// Values produced by one stage are read-only for the stages after it:
//   - FormSpec and FieldMap are fixed for the lifetime of the process.
//   - Submission is built once by the fetcher and never mutated.
//   - Contact is a per-submission snapshot; changes are expressed as an
//     UpdateDecision, never by editing the snapshot.
//
// Constructors copy their inputs and accessors return copies, so a caller
// holding a map it passed in cannot change a value after the fact.
package model
