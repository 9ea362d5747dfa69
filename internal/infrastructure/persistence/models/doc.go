// Package models contains the GORM models of the warehouse tables.
//
// Source tables are written by the scope replace stager from normalized
// records, so the models here serve reads, schema migration in tests and the
// allocation output. Every source table carries created_at and updated_at;
// updated_at drives the incremental recompute.
package models
