package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/product"
	"github.com/xenking/kart-orders/internal/repository"
)

type demoLine struct {
	productID string
	qty       int
}

func main() {
	var (
		databaseURL  string
		productsFile string
		demoUser     string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&demoUser, "demo-user", "demo-user", "user to create a demo cart for, empty skips the cart")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, productsFile, demoUser); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, productsFile, demoUser string) error {
	lg.Info("Connecting to database")
	pool, err := repository.NewPool(ctx, databaseURL, 4)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	products, err := readProducts(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products")
	}
	if err := seedProducts(ctx, lg, repository.NewProductRepository(pool), products); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if demoUser == "" || len(products) == 0 {
		return nil
	}
	lines := []demoLine{{productID: products[0].ID, qty: 2}}
	if len(products) > 1 {
		lines = append(lines, demoLine{productID: products[len(products)-1].ID, qty: 1})
	}
	return seedCart(ctx, lg, repository.NewCartRepository(pool), demoUser, lines)
}

// readProducts parses a JSON array of
// {"id","name","price","stock","category"} objects. Prices are strings or
// numbers.
func readProducts(path string) ([]product.Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	var products []product.Product
	err = jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		var p product.Product
		if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			switch string(key) {
			case "id":
				v, err := d.Str()
				p.ID = v
				return err
			case "name":
				v, err := d.Str()
				p.Name = v
				return err
			case "category":
				v, err := d.Str()
				p.Category = v
				return err
			case "stock":
				v, err := d.Int()
				p.Stock = v
				return err
			case "price":
				return decodePrice(d, &p.Price)
			default:
				return d.Skip()
			}
		}); err != nil {
			return err
		}
		if p.ID == "" {
			return errors.New("product without id")
		}
		products = append(products, p)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "parse products")
	}
	return products, nil
}

func decodePrice(d *jx.Decoder, dst *decimal.Decimal) error {
	var raw string
	switch d.Next() {
	case jx.String:
		v, err := d.Str()
		if err != nil {
			return err
		}
		raw = v
	default:
		v, err := d.Num()
		if err != nil {
			return err
		}
		raw = v.String()
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return errors.Wrapf(err, "price %q", raw)
	}
	*dst = price
	return nil
}

func seedProducts(ctx context.Context, lg *zap.Logger, repo product.Repository, products []product.Product) error {
	lg.Info("Upserting products", zap.Int("count", len(products)))
	for _, p := range products {
		if err := repo.Upsert(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
		lg.Debug("Upserted product",
			zap.String("id", p.ID),
			zap.String("name", p.Name),
			zap.Int("stock", p.Stock),
		)
	}
	return nil
}

func seedCart(ctx context.Context, lg *zap.Logger, carts *repository.CartRepository, userID string, lines []demoLine) error {
	cartID := uuid.NewString()
	if err := carts.Create(ctx, cartID, userID); err != nil {
		return errors.Wrap(err, "create cart")
	}
	for _, l := range lines {
		if err := carts.AddItem(ctx, cartID, uuid.NewString(), l.productID, l.qty); err != nil {
			return errors.Wrapf(err, "add product %s", l.productID)
		}
	}
	lg.Info("Created demo cart",
		zap.String("user_id", userID),
		zap.String("cart_id", cartID),
		zap.Int("lines", len(lines)),
	)
	return nil
}
