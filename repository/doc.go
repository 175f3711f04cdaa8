// Package repository provides generic repositories over Bun models. Reads
// compile query expressions into SQL and track the loaded entities on a
// session; writes are staged on that session and reach the database when it
// commits. SmartRepository adds DTO reads, pushed into the SELECT list, and
// DTO writes through a mapper.
package repository
