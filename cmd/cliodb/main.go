// Command cliodb is a peer shell: it runs queries and transactions against a
// cliodb database, either through a running clio-transactor or with an
// embedded one.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/loganmhb/cliodb/datalog"
	"github.com/loganmhb/cliodb/datalog/annotations"
	"github.com/loganmhb/cliodb/datalog/config"
	"github.com/loganmhb/cliodb/datalog/peer"
	"github.com/loganmhb/cliodb/datalog/server"
	"github.com/loganmhb/cliodb/datalog/storage"
	"github.com/loganmhb/cliodb/datalog/transactor"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "cliodb: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	var (
		storeURI    string
		txAddr      string
		local       bool
		queryStr    string
		txStr       string
		asOf        uint64
		history     bool
		annotate    bool
		logLevel    string
		interactive bool
	)
	flag.StringVar(&storeURI, "store", "badger://./cliodb-data", "block store URI")
	flag.StringVar(&txAddr, "transactor", "tcp://127.0.0.1:9876", "transactor address")
	flag.BoolVar(&local, "local", false, "run an embedded transactor on the store instead of connecting to one")
	flag.StringVar(&queryStr, "query", "", "run a single query and exit")
	flag.StringVar(&txStr, "tx", "", "submit a single transaction and exit")
	flag.Uint64Var(&asOf, "as-of", 0, "query the database as of this transaction")
	flag.BoolVar(&history, "history", false, "include retracted and superseded datoms in query results")
	flag.BoolVar(&annotate, "annotate", false, "print query execution events to stderr")
	flag.StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flag.BoolVar(&interactive, "i", false, "interactive mode")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "A peer shell for cliodb databases.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -i                                   # Interactive mode against the local transactor\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -local -store mem:// -i              # Throwaway in-memory database\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -tx '[{:db/ident :person/name :db/valueType :db.type/string}]'\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -query '[:find ?n :where [_ :person/name ?n]]'\n", os.Args[0])
	}
	flag.Parse()
	if len(flag.Args()) > 0 {
		return fmt.Errorf("unknown arguments: %v", flag.Args())
	}

	level, err := config.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logger := config.NewLogger(os.Stderr, level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	store, err := storage.Open(ctx, storeURI)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	opts := peer.Options{History: history, Logger: logger}
	if annotate {
		opts.Handler = annotations.ConsoleHandler(os.Stderr)
	}

	var conn *peer.Conn
	if local {
		topts := transactor.DefaultOptions()
		topts.Logger = logger
		tx, err := transactor.New(ctx, store, topts)
		if err != nil {
			return err
		}
		defer tx.Close()
		conn = peer.Local(tx, opts)
	} else {
		client, err := server.Dial(txAddr)
		if err != nil {
			return err
		}
		defer client.Close()
		if conn, err = peer.Connect(ctx, store, client, opts); err != nil {
			return err
		}
	}
	defer conn.Close()

	s := &shell{conn: conn, out: os.Stdout, asOf: datalog.TxID(asOf)}
	switch {
	case txStr != "":
		return s.transact(ctx, txStr)
	case queryStr != "":
		return s.query(ctx, queryStr)
	case interactive:
		return s.interactive(ctx, os.Stdin)
	default:
		flag.Usage()
		return nil
	}
}

// shell runs text commands against one connection
type shell struct {
	conn *peer.Conn
	out  io.Writer
	asOf datalog.TxID
}

func (s *shell) query(ctx context.Context, text string) error {
	d, err := s.conn.Db(ctx)
	if err != nil {
		return err
	}
	if s.asOf != 0 {
		d = d.AsOf(s.asOf)
	}

	start := time.Now()
	rel, err := s.conn.QueryString(ctx, d, text)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, rel.Table())
	fmt.Fprintf(s.out, "basis %d, %s\n", d.BasisT(), time.Since(start).Round(time.Microsecond))
	return nil
}

func (s *shell) transact(ctx context.Context, text string) error {
	report, err := s.conn.TransactString(ctx, text)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "committed tx %d (%d datoms)\n", report.TxID, len(report.Datoms))

	names := make([]string, 0, len(report.TempIDs))
	for name := range report.TempIDs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(s.out, "  %q -> %d\n", name, report.TempIDs[name])
	}
	return nil
}

func (s *shell) interactive(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(s.out, "=== cliodb ===")
	fmt.Fprintln(s.out, "Commands:")
	fmt.Fprintln(s.out, "  .help         - Show help")
	fmt.Fprintln(s.out, "  .exit         - Exit")
	fmt.Fprintln(s.out, "  .as-of <tx>   - Query as of a transaction, 0 for latest")
	fmt.Fprintln(s.out, "  [:find ...]   - Run a query")
	fmt.Fprintln(s.out, "  [[...] ...]   - Submit a transaction")
	fmt.Fprintln(s.out)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
		case line == ".exit":
			return nil
		case line == ".help":
			fmt.Fprintln(s.out, "Enter a query or a transaction; forms may span lines")
		case strings.HasPrefix(line, ".as-of"):
			var t uint64
			if _, err := fmt.Sscanf(strings.TrimPrefix(line, ".as-of"), "%d", &t); err != nil {
				fmt.Fprintln(s.out, "Usage: .as-of <tx>")
				continue
			}
			s.asOf = datalog.TxID(t)
		case strings.HasPrefix(line, "["):
			form := line
			for depth(form) > 0 {
				fmt.Fprint(s.out, "  ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				form += "\n" + scanner.Text()
			}

			var err error
			if strings.HasPrefix(strings.TrimLeft(form[1:], " \t\n"), ":find") {
				err = s.query(ctx, form)
			} else {
				err = s.transact(ctx, form)
			}
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				fmt.Fprintf(s.out, "Error: %v\n", err)
			}
		default:
			fmt.Fprintln(s.out, "Unknown command. Use .help for help.")
		}
	}
}

// depth returns how many brackets are left open in text, ignoring string
// literals and comments.
func depth(text string) int {
	n := 0
	inString, escaped, comment := false, false, false
	for _, r := range text {
		switch {
		case comment:
			comment = r != '\n'
		case inString:
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
		case r == '"':
			inString = true
		case r == ';':
			comment = true
		case r == '[' || r == '(' || r == '{':
			n++
		case r == ']' || r == ')' || r == '}':
			n--
		}
	}
	return n
}
