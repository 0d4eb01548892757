// Package sequence manages outreach sequences and their ordered steps.
//
// Step order is dense and 1-based within a sequence. Appending assigns the
// next order; deleting renumbers the steps after it so that order stays
// contiguous. Repository implementations live in repository/postgres/ and
// repository/memory/.
package sequence
