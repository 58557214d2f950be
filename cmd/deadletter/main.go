package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/invoicer/internal/app"
	"github.com/vladislavdragonenkov/invoicer/internal/domain"
	"github.com/vladislavdragonenkov/invoicer/internal/service/pipeline"
)

const usage = `usage: deadletter [-execute] <command> [order-number...]

commands:
  list                    show orders that failed to render
  show <order>            print one record with its last error
  drop <order>...         forget records without reprocessing
  replay [order...]       run records through the pipeline again (all when none given)

drop and replay only report what they would do unless -execute is set.`

type operator interface {
	List(ctx context.Context) ([]domain.DeadLetter, error)
	Get(ctx context.Context, orderNumber string) (domain.DeadLetter, error)
	Drop(ctx context.Context, orderNumber string) error
	Replay(ctx context.Context, orders []domain.Order) (pipeline.CycleReport, error)
	Close() error
}

type config struct {
	execute bool
	command string
	orders  []string
}

var openOperator = func(ctx context.Context) (operator, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, warnings := app.LoadConfig(os.LookupEnv)
	for _, w := range warnings {
		log.Warn(w)
	}
	return app.NewOperator(ctx, cfg)
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.WarnLevel)

	cfg, err := parseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	op, err := openOperator(ctx)
	if err != nil {
		fail("open dead-letter store: %v", err)
	}
	defer op.Close()

	if err := run(ctx, cfg, op, os.Stdout); err != nil {
		_ = op.Close()
		fail("%v", err)
	}
}

func parseArgs(args []string, stderr io.Writer) (config, error) {
	flags := flag.NewFlagSet("deadletter", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() { fmt.Fprintln(stderr, usage) }

	var cfg config
	flags.BoolVar(&cfg.execute, "execute", false, "apply drop/replay instead of a dry run")
	if err := flags.Parse(args); err != nil {
		return config{}, err
	}

	rest := flags.Args()
	if len(rest) == 0 {
		return config{}, errors.New("command is required\n" + usage)
	}
	cfg.command = strings.ToLower(rest[0])
	cfg.orders = rest[1:]

	switch cfg.command {
	case "list", "replay":
	case "show":
		if len(cfg.orders) != 1 {
			return config{}, errors.New("show needs exactly one order number")
		}
	case "drop":
		if len(cfg.orders) == 0 {
			return config{}, errors.New("drop needs at least one order number")
		}
	default:
		return config{}, fmt.Errorf("unknown command %q\n%s", cfg.command, usage)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config, op operator, out io.Writer) error {
	switch cfg.command {
	case "list":
		letters, err := op.List(ctx)
		if err != nil {
			return fmt.Errorf("list dead letters: %w", err)
		}
		printList(out, letters)
		return nil
	case "show":
		letter, err := op.Get(ctx, cfg.orders[0])
		if err != nil {
			return fmt.Errorf("get %s: %w", cfg.orders[0], err)
		}
		printLetter(out, letter)
		return nil
	case "drop":
		return drop(ctx, cfg, op, out)
	case "replay":
		return replay(ctx, cfg, op, out)
	default:
		return fmt.Errorf("unknown command %q", cfg.command)
	}
}

func drop(ctx context.Context, cfg config, op operator, out io.Writer) error {
	var errs []error
	for _, number := range cfg.orders {
		if !cfg.execute {
			if _, err := op.Get(ctx, number); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", number, err))
				continue
			}
			fmt.Fprintf(out, "would drop %s\n", number)
			continue
		}
		if err := op.Drop(ctx, number); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", number, err))
			continue
		}
		fmt.Fprintf(out, "dropped %s\n", number)
	}
	return errors.Join(errs...)
}

func replay(ctx context.Context, cfg config, op operator, out io.Writer) error {
	letters, err := selectLetters(ctx, op, cfg.orders)
	if err != nil {
		return err
	}
	if len(letters) == 0 {
		fmt.Fprintln(out, "nothing to replay")
		return nil
	}

	if !cfg.execute {
		for _, l := range letters {
			fmt.Fprintf(out, "would replay %s (attempts=%d)\n", l.OrderNumber, l.Attempts)
		}
		fmt.Fprintln(out, "dry run: pass -execute to replay")
		return nil
	}

	orders := make([]domain.Order, 0, len(letters))
	for _, l := range letters {
		orders = append(orders, l.Order)
	}
	report, err := op.Replay(ctx, orders)
	for _, res := range report.Orders {
		line := fmt.Sprintf("%s: %s", res.OrderNumber, res.Outcome)
		if res.Error != "" {
			line += " (" + res.Error + ")"
		}
		fmt.Fprintln(out, line)
	}
	fmt.Fprintf(out, "replayed=%d processed=%d duplicates=%d failed=%d\n",
		len(orders), report.Processed, report.Duplicates, report.RenderFailed+report.Invalid+report.Panicked)
	return err
}

func selectLetters(ctx context.Context, op operator, numbers []string) ([]domain.DeadLetter, error) {
	if len(numbers) == 0 {
		letters, err := op.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list dead letters: %w", err)
		}
		return letters, nil
	}
	letters := make([]domain.DeadLetter, 0, len(numbers))
	for _, number := range numbers {
		letter, err := op.Get(ctx, number)
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", number, err)
		}
		letters = append(letters, letter)
	}
	return letters, nil
}

func printList(out io.Writer, letters []domain.DeadLetter) {
	if len(letters) == 0 {
		fmt.Fprintln(out, "no dead letters")
		return
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ORDER\tATTEMPTS\tLAST FAILED\tERROR")
	for _, l := range letters {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", l.OrderNumber, l.Attempts, l.LastFailedAt.Format(time.RFC3339), firstLine(l.LastError))
	}
	_ = w.Flush()
}

func printLetter(out io.Writer, l domain.DeadLetter) {
	fmt.Fprintf(out, "order:        %s\n", l.OrderNumber)
	fmt.Fprintf(out, "customer:     %s\n", l.Order.Customer.DisplayName())
	fmt.Fprintf(out, "attempts:     %d\n", l.Attempts)
	fmt.Fprintf(out, "first failed: %s\n", l.FirstFailedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "last failed:  %s\n", l.LastFailedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "error:        %s\n", l.LastError)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
