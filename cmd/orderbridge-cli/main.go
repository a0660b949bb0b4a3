package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"orderbridge/internal/domain"
	"orderbridge/internal/stream"
)

const version = "0.1.0"

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: orderbridge-cli <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  version                        Print the CLI version\n")
	fmt.Fprintf(os.Stderr, "  buy  [options] SYMBOL SIZE     Place a buy order or bracket\n")
	fmt.Fprintf(os.Stderr, "  sell [options] SYMBOL SIZE     Place a sell order or bracket\n")
	fmt.Fprintf(os.Stderr, "  cancel REF                     Cancel an order\n")
	fmt.Fprintf(os.Stderr, "\nOrder options:\n")
	newOrderFlags("buy").fs.PrintDefaults()
}

type orderFlags struct {
	fs         *flag.FlagSet
	typ        *string
	price      *float64
	priceLimit *float64
	expiry     *time.Duration
	stop       *float64
	take       *float64
}

func newOrderFlags(name string) *orderFlags {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return &orderFlags{
		fs:         fs,
		typ:        fs.String("type", "market", "order type: market, limit, stop, stop_limit"),
		price:      fs.Float64("price", 0, "limit or stop price"),
		priceLimit: fs.Float64("price-limit", 0, "limit price of a stop_limit order"),
		expiry:     fs.Duration("expiry", 0, "good until now+expiry (default: day order)"),
		stop:       fs.Float64("stop", 0, "bracket stop-loss price"),
		take:       fs.Float64("take", 0, "bracket take-profit price"),
	}
}

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	addr := "localhost:9090"
	if a := os.Getenv("ORDERBRIDGE_ADDR"); a != "" {
		addr = a
	}
	client := stream.NewClient(addr, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	switch cmd := os.Args[1]; cmd {
	case "version":
		fmt.Printf("orderbridge-cli %s\n", version)

	case "buy", "sell":
		err = place(ctx, client, domain.OrderSide(cmd), os.Args[2:])

	case "cancel":
		if len(os.Args) != 3 {
			usage()
			os.Exit(1)
		}
		var ref int64
		ref, err = strconv.ParseInt(os.Args[2], 10, 64)
		if err == nil {
			var o *domain.Order
			o, err = client.Cancel(ctx, ref)
			if err == nil {
				printOrder(o)
			}
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func place(ctx context.Context, client *stream.Client, side domain.OrderSide, args []string) error {
	f := newOrderFlags(string(side))
	if err := f.fs.Parse(args); err != nil {
		return err
	}
	if f.fs.NArg() != 2 {
		return fmt.Errorf("%s needs SYMBOL SIZE", side)
	}
	size, err := strconv.ParseFloat(f.fs.Arg(1), 64)
	if err != nil {
		return fmt.Errorf("size: %w", err)
	}

	in := stream.Intent{
		Symbol:    strings.ToUpper(f.fs.Arg(0)),
		Side:      side,
		Type:      domain.OrderType(*f.typ),
		Size:      size,
		StopPrice: *f.stop,
		TakePrice: *f.take,
	}
	if *f.price > 0 {
		in.Price = f.price
	}
	if *f.priceLimit > 0 {
		in.PriceLimit = f.priceLimit
	}
	if *f.expiry > 0 {
		exp := time.Now().Add(*f.expiry)
		in.Expiry = &exp
	}

	orders, err := client.Place(ctx, in)
	if err != nil {
		return err
	}
	for _, o := range orders {
		printOrder(o)
	}
	return nil
}

func printOrder(o *domain.Order) {
	price := "-"
	if o.Price != nil {
		price = strconv.FormatFloat(*o.Price, 'f', -1, 64)
	}
	role := ""
	if o.Role != domain.RoleNone {
		role = " " + string(o.Role)
	}
	fmt.Printf("#%d %s %s %s %v @ %s %s%s\n", o.Ref, o.Symbol, o.Side, o.Type, o.Size, price, o.Status, role)
}
