// Package lookup maintains the entity lookup table: for every entity id, the
// decompressed byte span its rows occupy in each indexed file.
//
// The table is persisted as CSV with one row per entity and two columns per
// indexed file, <file_id>_byteidx_start and <file_id>_byteidx_end. Missing
// spans are written as empty cells; -1 is accepted when loading.
//
// Tables are immutable once published. Writers derive a new table with
// ApplySpans and publish it through a Store, which persists the table with
// an atomic rename before readers can observe it.
package lookup
