package postgres

// migrationPgvector adds the pgvector column. It is applied outside the
// numbered migrations because it only runs when the extension is available.
// Safe to run multiple times.
const migrationPgvector = `
ALTER TABLE records ADD COLUMN IF NOT EXISTS embedding_vec vector;
`
