package store

// Compile-time check that the SQLite implementation satisfies the Store contract.
var _ Store = (*SQLiteStore)(nil)
