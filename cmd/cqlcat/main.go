// cqlcat runs one CQL statement against a Cassandra node and prints the
// outcome, exercising the whole codec path end to end.
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/flagext"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cqlwire/cqlwire/pkg/client"
	"github.com/cqlwire/cqlwire/pkg/frame"
)

func main() {
	app := kingpin.New("cqlcat", "Run one CQL statement against a Cassandra node and print the outcome.")
	addr := app.Flag("addr", "Hostname or ip of the Cassandra instance.").Default("127.0.0.1").String()
	port := app.Flag("port", "Native protocol port.").Default("9042").Int()
	proto := app.Flag("protocol-version", "Native protocol version to speak (1 or 2).").Default("1").Int()
	consistency := app.Flag("consistency", "Consistency level.").Default("ONE").String()
	username := app.Flag("username", "Username for password authentication.").String()
	password := app.Flag("password", "Password for password authentication.").String()
	compress := app.Flag("compress", "Negotiate snappy frame compression.").Bool()
	timeout := app.Flag("timeout", "Per-request timeout.").Default("2s").Duration()
	raw := app.Flag("raw", "Tab-separated output without colors.").Short('r').Bool()
	debug := app.Flag("debug", "Log every frame.").Bool()
	query := app.Arg("query", "CQL statement to run.").Required().String()
	kingpin.MustParse(app.Parse(os.Args[1:]))

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	if *debug {
		logger = level.NewFilter(logger, level.AllowDebug())
	} else {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	cons, err := frame.ParseConsistency(strings.ToUpper(*consistency))
	if err != nil {
		fatal(err)
	}

	cfg := client.Config{
		Address:     *addr,
		Port:        *port,
		Version:     *proto,
		CQLVersion:  "3.0.5",
		Consistency: *consistency,
		Username:    *username,
		Password:    flagext.SecretWithValue(*password),
		Timeout:     *timeout,
		Compression: *compress,
	}

	c, err := client.Dial(cfg, logger, prometheus.NewRegistry())
	if err != nil {
		fatal(err)
	}
	defer c.Close()

	if err := c.Startup(); err != nil {
		fatal(err)
	}

	start := time.Now()
	res, err := c.Query(*query, cons)
	if err != nil {
		fatal(err)
	}

	switch res.Kind {
	case client.QueryVoid:
		fmt.Println("OK")
	case client.QueryKeyspace:
		fmt.Printf("keyspace %s\n", res.Keyspace)
	case client.QuerySchemaChange:
		sc := res.SchemaChange
		fmt.Printf("schema change: %s %s.%s\n", sc.Change, sc.Keyspace, sc.Table)
	case client.QueryRows:
		printRows(res, *raw)
		level.Debug(logger).Log("msg", "query done", "rows", res.Rows.Rows(), "duration", time.Since(start))
	}
}

func printRows(res *client.QueryResult, raw bool) {
	rows := res.Rows
	meta := rows.Metadata()

	headers := make([]string, meta.Columns())
	for i := range headers {
		headers[i], _ = meta.ColumnShortName(i)
	}

	if raw {
		fmt.Println(strings.Join(headers, "\t"))
		for _, row := range rows.RowsArray() {
			cells := make([]string, len(row))
			for i, v := range row {
				cells[i] = formatValue(v)
			}
			fmt.Println(strings.Join(cells, "\t"))
		}
		return
	}

	for i := range headers {
		headers[i] = color.CyanString(headers[i])
	}
	fmt.Println(strings.Join(headers, " | "))
	for _, row := range rows.RowsArray() {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatValue(v)
		}
		fmt.Println(strings.Join(cells, " | "))
	}
}

func formatValue(v interface{}) string {
	switch c := v.(type) {
	case nil:
		return color.YellowString("null")
	case []byte:
		return "0x" + hex.EncodeToString(c)
	default:
		return fmt.Sprintf("%v", c)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
	os.Exit(1)
}
