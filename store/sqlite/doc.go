// Package sqlite implements store.Store on SQLite through GORM and the
// pure-Go glebarez driver. Suitable for single-host deployments and CLI
// tools that want a queryable history without a database server.
//
//	s, err := sqlite.Open("conductor.db")
//	if err != nil { ... }
//	defer s.Close()
//	if err := s.Migrate(ctx); err != nil { ... }
//
// A caller that already owns a *gorm.DB can pass it to New; Close then
// leaves the handle open.
package sqlite
