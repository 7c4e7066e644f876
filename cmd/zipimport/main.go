package main

import (
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"yardhop/pkg/domain"
	"yardhop/pkg/geocode"
	"yardhop/pkg/store"
)

const defaultBatchSize = 500

// zipStore is the slice of the store the importer needs.
type zipStore interface {
	UpsertZipCodes([]domain.ZipCode) error
}

func main() {
	_ = godotenv.Overload(".env")

	filePath := flag.String("file", "", "path to the zip,city,state,lat,lng CSV")
	databaseURL := flag.String("database-url", os.Getenv("DATABASE_URL"), "postgres connection string (defaults to DATABASE_URL)")
	batchSize := flag.Int("batch", defaultBatchSize, "rows per upsert batch")
	flag.Parse()

	if *filePath == "" {
		fmt.Fprintf(os.Stderr, "usage: %s -file <zips.csv> [-database-url <dsn>] [-batch <n>]\n", os.Args[0])
		os.Exit(2)
	}
	if *databaseURL == "" {
		exitErr(errors.New("no database url: pass -database-url or set DATABASE_URL"))
	}
	if *batchSize <= 0 {
		exitErr(errors.New("-batch must be positive"))
	}

	f, err := os.Open(*filePath)
	if err != nil {
		exitErr(err)
	}
	defer f.Close()

	dataStore, err := store.NewGormStore(*databaseURL)
	if err != nil {
		exitErr(fmt.Errorf("connect to postgres: %w", err))
	}

	imported, skipped, err := runImport(dataStore, f, *batchSize)
	if err != nil {
		exitErr(err)
	}
	fmt.Printf("imported %d zip codes, skipped %d rows\n", imported, skipped)
}

// runImport streams CSV rows into the store in batches. Rows that do not
// parse, including any header line, count as skipped.
func runImport(dst zipStore, src io.Reader, batchSize int) (imported, skipped int, err error) {
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	batch := make([]domain.ZipCode, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := dst.UpsertZipCodes(batch); err != nil {
			return fmt.Errorf("upsert batch: %w", err)
		}
		imported += len(batch)
		batch = batch[:0]
		return nil
	}

	for {
		record, readErr := reader.Read()
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return imported, skipped, fmt.Errorf("read csv: %w", readErr)
		}
		row, ok := parseRow(record)
		if !ok {
			skipped++
			continue
		}
		batch = append(batch, row)
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return imported, skipped, err
			}
		}
	}
	if err := flush(); err != nil {
		return imported, skipped, err
	}
	return imported, skipped, nil
}

func parseRow(record []string) (domain.ZipCode, bool) {
	if len(record) < 5 {
		return domain.ZipCode{}, false
	}
	zip := strings.TrimSpace(record[0])
	if !geocode.ValidZip(zip) {
		return domain.ZipCode{}, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(record[3]), 64)
	if err != nil || lat < -90 || lat > 90 {
		return domain.ZipCode{}, false
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(record[4]), 64)
	if err != nil || lng < -180 || lng > 180 {
		return domain.ZipCode{}, false
	}
	return domain.ZipCode{
		Zip:   zip,
		City:  strings.TrimSpace(record[1]),
		State: strings.ToUpper(strings.TrimSpace(record[2])),
		Lat:   lat,
		Lng:   lng,
	}, true
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
