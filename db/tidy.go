package db

import (
	"time"

	sb "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"
)

// Tidy removes articles older than 90 days. Analyses and opposing links go
// with them through the cascading foreign keys.
func Tidy(database string) error {
	db, err := NewDB(database)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.tidy()
}

func (d *DB) tidy() error {
	cutoff := time.Now().Add(-90 * 24 * time.Hour).Unix()
	deleteArticles := sb.NewDeleteBuilder()
	deleteArticles.DeleteFrom("articles").Where(deleteArticles.LessEqualThan("created_at", cutoff))
	query, args := deleteArticles.BuildWithFlavor(sb.SQLite)

	log.WithFields(log.Fields{
		"sql":  query,
		"args": args,
	}).Info("Tidying database")

	_, err := d.db.Exec(query, args...)
	return err
}
