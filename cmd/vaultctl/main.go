package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/rajnish8869/SecureVault-Manager/internal/config"
	"github.com/rajnish8869/SecureVault-Manager/internal/platform"
	"github.com/rajnish8869/SecureVault-Manager/internal/registry"
	"github.com/rajnish8869/SecureVault-Manager/internal/storage"
	"github.com/rajnish8869/SecureVault-Manager/internal/vault"
)

func main() {
	_ = platform.DisableCoreDumps()

	// ---- init ----
	initCmd := flag.NewFlagSet("init", flag.ExitOnError)
	initConfig := initCmd.String("config", "", "path to config file")
	initDir := initCmd.String("dir", "", "vault directory (overrides config)")
	initType := initCmd.String("type", "password", "lock type: pin or password")
	initMongo := initCmd.String("mongo", "", "MongoDB URI (optional)")

	// ---- list ----
	listCmd := flag.NewFlagSet("list", flag.ExitOnError)
	listConfig := listCmd.String("config", "", "path to config file")
	listDir := listCmd.String("dir", "", "vault directory (overrides config)")
	listMime := listCmd.String("mime", "", "filter by MIME type")
	listMongo := listCmd.String("mongo", "", "MongoDB URI (optional)")

	// ---- import ----
	importCmd := flag.NewFlagSet("import", flag.ExitOnError)
	importConfig := importCmd.String("config", "", "path to config file")
	importDir := importCmd.String("dir", "", "vault directory (overrides config)")
	importFile := importCmd.String("file", "", "file to import")
	importName := importCmd.String("name", "", "stored name (defaults to basename)")
	importMime := importCmd.String("mime", "application/octet-stream", "MIME type label")
	importMongo := importCmd.String("mongo", "", "MongoDB URI (optional)")

	// ---- export ----
	exportCmd := flag.NewFlagSet("export", flag.ExitOnError)
	exportConfig := exportCmd.String("config", "", "path to config file")
	exportDir := exportCmd.String("dir", "", "vault directory (overrides config)")
	exportID := exportCmd.String("id", "", "item id")
	exportOut := exportCmd.String("out", "", "output path (defaults to stored name)")
	exportMongo := exportCmd.String("mongo", "", "MongoDB URI (optional)")

	// ---- delete ----
	delCmd := flag.NewFlagSet("delete", flag.ExitOnError)
	delConfig := delCmd.String("config", "", "path to config file")
	delDir := delCmd.String("dir", "", "vault directory (overrides config)")
	delID := delCmd.String("id", "", "item id")
	delMongo := delCmd.String("mongo", "", "MongoDB URI (optional)")

	// ---- rotate ----
	rotCmd := flag.NewFlagSet("rotate", flag.ExitOnError)
	rotConfig := rotCmd.String("config", "", "path to config file")
	rotDir := rotCmd.String("dir", "", "vault directory (overrides config)")
	rotType := rotCmd.String("type", "password", "new lock type: pin or password")
	rotMongo := rotCmd.String("mongo", "", "MongoDB URI (optional)")

	// ---- set-decoy / remove-decoy / reset ----
	setDecoyCmd := flag.NewFlagSet("set-decoy", flag.ExitOnError)
	setDecoyConfig := setDecoyCmd.String("config", "", "path to config file")
	setDecoyDir := setDecoyCmd.String("dir", "", "vault directory (overrides config)")
	setDecoyMongo := setDecoyCmd.String("mongo", "", "MongoDB URI (optional)")

	rmDecoyCmd := flag.NewFlagSet("remove-decoy", flag.ExitOnError)
	rmDecoyConfig := rmDecoyCmd.String("config", "", "path to config file")
	rmDecoyDir := rmDecoyCmd.String("dir", "", "vault directory (overrides config)")
	rmDecoyMongo := rmDecoyCmd.String("mongo", "", "MongoDB URI (optional)")

	resetCmd := flag.NewFlagSet("reset", flag.ExitOnError)
	resetConfig := resetCmd.String("config", "", "path to config file")
	resetDir := resetCmd.String("dir", "", "vault directory (overrides config)")
	resetMongo := resetCmd.String("mongo", "", "MongoDB URI (optional)")

	if len(os.Args) < 2 {
		usage()
		return
	}

	ctx := context.Background()

	switch os.Args[1] {
	case "init":
		_ = initCmd.Parse(os.Args[2:])
		m, err := buildManager(ctx, *initConfig, *initDir, *initMongo)
		dieIf(err)
		secret, err := promptSecret("New master secret: ")
		dieIf(err)
		dieIf(m.Init(ctx, secret, parseLockType(*initType)))
		fmt.Println("vault initialized")

	case "list":
		_ = listCmd.Parse(os.Args[2:])
		m, err := buildManager(ctx, *listConfig, *listDir, *listMongo)
		dieIf(err)
		dieIf(unlock(ctx, m))
		defer m.Lock()
		items, err := m.List(vault.Query{MimeType: *listMime})
		dieIf(err)
		for _, it := range items {
			fmt.Printf("%s  %-24s %-20s %8d  %s\n",
				it.ID, it.OriginalName, it.MimeType, it.Size,
				time.Unix(it.ImportedAt, 0).Format(time.RFC3339))
		}

	case "import":
		_ = importCmd.Parse(os.Args[2:])
		if *importFile == "" {
			dieIf(fmt.Errorf("--file is required"))
		}
		data, err := os.ReadFile(*importFile)
		dieIf(err)
		name := *importName
		if name == "" {
			name = filepath.Base(*importFile)
		}
		m, err := buildManager(ctx, *importConfig, *importDir, *importMongo)
		dieIf(err)
		dieIf(unlock(ctx, m))
		defer m.Lock()
		item, err := m.Import(ctx, data, name, *importMime)
		dieIf(err)
		fmt.Printf("imported %s as %s\n", name, item.ID)

	case "export":
		_ = exportCmd.Parse(os.Args[2:])
		if *exportID == "" {
			dieIf(fmt.Errorf("--id is required"))
		}
		m, err := buildManager(ctx, *exportConfig, *exportDir, *exportMongo)
		dieIf(err)
		dieIf(unlock(ctx, m))
		defer m.Lock()
		data, err := m.Export(ctx, *exportID)
		dieIf(err)
		out := *exportOut
		if out == "" {
			items, err := m.List(vault.Query{})
			dieIf(err)
			for _, it := range items {
				if it.ID == *exportID {
					out = it.OriginalName
				}
			}
		}
		dieIf(os.WriteFile(out, data, 0o600))
		fmt.Printf("exported %s to %s\n", *exportID, out)

	case "delete":
		_ = delCmd.Parse(os.Args[2:])
		if *delID == "" {
			dieIf(fmt.Errorf("--id is required"))
		}
		m, err := buildManager(ctx, *delConfig, *delDir, *delMongo)
		dieIf(err)
		dieIf(unlock(ctx, m))
		defer m.Lock()
		dieIf(m.Delete(ctx, *delID))
		fmt.Printf("deleted %s\n", *delID)

	case "rotate":
		_ = rotCmd.Parse(os.Args[2:])
		m, err := buildManager(ctx, *rotConfig, *rotDir, *rotMongo)
		dieIf(err)
		old, err := promptSecret("Current master secret: ")
		dieIf(err)
		if _, err := m.Unlock(ctx, old); err != nil {
			dieIf(err)
		}
		next, err := promptSecret("New master secret: ")
		dieIf(err)
		err = m.Rotate(ctx, old, next, parseLockType(*rotType), func(done, total int) {
			fmt.Printf("\rre-encrypting %d/%d", done, total)
		})
		fmt.Println()
		dieIf(err)
		fmt.Println("rotation complete; unlock with the new secret")

	case "set-decoy":
		_ = setDecoyCmd.Parse(os.Args[2:])
		m, err := buildManager(ctx, *setDecoyConfig, *setDecoyDir, *setDecoyMongo)
		dieIf(err)
		dieIf(unlock(ctx, m))
		defer m.Lock()
		decoy, err := promptSecret("Decoy secret: ")
		dieIf(err)
		dieIf(m.SetDecoy(ctx, decoy))
		fmt.Println("decoy credential set")

	case "remove-decoy":
		_ = rmDecoyCmd.Parse(os.Args[2:])
		m, err := buildManager(ctx, *rmDecoyConfig, *rmDecoyDir, *rmDecoyMongo)
		dieIf(err)
		dieIf(unlock(ctx, m))
		defer m.Lock()
		dieIf(m.RemoveDecoy(ctx))
		fmt.Println("decoy credential removed")

	case "reset":
		_ = resetCmd.Parse(os.Args[2:])
		m, err := buildManager(ctx, *resetConfig, *resetDir, *resetMongo)
		dieIf(err)
		secret, err := promptSecret("Master secret: ")
		dieIf(err)
		dieIf(m.Reset(ctx, secret))
		fmt.Println("vault wiped")

	default:
		usage()
	}
}

// ============ Helper Functions ============

func usage() {
	fmt.Print(`vaultctl commands:

  init          --type pin|password [--dir path | --config file] [--mongo URI]
  list          [--mime type] [--dir path | --config file] [--mongo URI]
  import        --file path [--name stored-name --mime type] [--dir path] [--mongo URI]
  export        --id item-id [--out path] [--dir path] [--mongo URI]
  delete        --id item-id [--dir path] [--mongo URI]
  rotate        --type pin|password [--dir path] [--mongo URI]
  set-decoy     [--dir path] [--mongo URI]
  remove-decoy  [--dir path] [--mongo URI]
  reset         [--dir path] [--mongo URI]
`)
}

func dieIf(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func parseLockType(s string) registry.LockType {
	if strings.EqualFold(s, "pin") {
		return registry.LockTypePIN
	}
	return registry.LockTypePassword
}

func buildManager(ctx context.Context, configPath, dir, mongoURI string) (*vault.Manager, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dir != "" {
		cfg.VaultDir = dir
		cfg.RegistryPath = filepath.Join(dir, "auth.json")
	}

	var store storage.ObjectStore
	if mongoURI != "" {
		store, err = storage.NewMongoObjectStore(ctx, mongoURI, cfg.Mongo.Database, cfg.Mongo.Collection)
	} else {
		store, err = storage.NewFileObjectStore(filepath.Join(cfg.VaultDir, "objects"))
	}
	if err != nil {
		return nil, err
	}
	reg, err := registry.Open(cfg.RegistryPath)
	if err != nil {
		return nil, err
	}
	return vault.New(vault.Options{
		Store:          store,
		Registry:       reg,
		KDF:            cfg.KDFParams(),
		MetaBound:      cfg.MetaBoundBytes,
		RotateRetries:  cfg.RotateRetries,
		UnlockInterval: cfg.UnlockInterval(),
		UnlockBurst:    cfg.UnlockBurst,
		Logger:         slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	})
}

func unlock(ctx context.Context, m *vault.Manager) error {
	// When biometric unlock is enabled the platform broker may hold a
	// sealed copy of the secret; fall back to prompting otherwise.
	if m.BiometricEnabled() {
		if secret, err := platform.NewKeystoreBroker().UnsealSecret(); err == nil {
			if _, err := m.Unlock(ctx, secret); err == nil {
				return nil
			}
		}
	}
	secret, err := promptSecret("Master secret: ")
	if err != nil {
		return err
	}
	_, err = m.Unlock(ctx, secret)
	return err
}

func promptSecret(label string) ([]byte, error) {
	fmt.Fprint(os.Stderr, label)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		return secret, err
	}
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}
