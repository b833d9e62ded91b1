package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/annel0/world-templates/internal/config"
	"github.com/annel0/world-templates/internal/logging"
)

const usage = `worldtpl: шаблоны миров

Использование:
  worldtpl [флаги] <команда> [аргументы]

Команды:
  create <world> [template]    создать шаблон из загруженного мира
  load <template> <new-world>  загрузить новый мир из шаблона
  delete <template>            удалить шаблон
  list                         показать шаблоны и зарегистрированные миры
  export <template> <file>     упаковать шаблон в tar.zst
  import <file> <template>     распаковать шаблон из tar.zst
  serve                        держать главный поток, метрики, шину и REST API до SIGINT
  token <operator> [admin]     выпустить токен оператора для REST API

Флаги:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	var (
		configPath   string
		templateRoot string
		container    string
		logLevel     string
	)

	flagSet := pflag.NewFlagSet("worldtpl", pflag.ContinueOnError)
	flagSet.SetOutput(out)
	flagSet.StringVarP(&configPath, "config", "c", "", "YAML-файл конфигурации (по умолчанию $WORLDTPL_CONFIG)")
	flagSet.StringVar(&templateRoot, "template-root", "", "каталог шаблонов (перекрывает templates.root)")
	flagSet.StringVar(&container, "container", "", "каталог миров (перекрывает worlds.container)")
	flagSet.StringVar(&logLevel, "log-level", "", "уровень логов в консоли: trace, debug, info, warn, error")
	flagSet.Usage = func() {
		fmt.Fprint(out, usage)
		flagSet.PrintDefaults()
	}
	flagSet.SetInterspersed(false)

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		flagSet.Usage()
		return errors.New("не указана команда")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}
	if templateRoot != "" {
		cfg.Templates.Root = templateRoot
	}
	if container != "" {
		cfg.Worlds.Container = container
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logging.SetLogDir(cfg.Logging.Dir)
	if err := logging.InitDefaultLogger("worldtpl"); err != nil {
		return fmt.Errorf("ошибка инициализации логирования: %w", err)
	}
	defer logging.CloseDefaultLogger()
	logging.Default().SetLevels(logging.ParseLevel(cfg.Logging.Level), logging.TRACE)
	logging.GetLoggerManager().ConfigureLevels(cfg.Logging.Level, cfg.Logging.Components)

	cmd, ok := commands[rest[0]]
	if !ok {
		flagSet.Usage()
		return fmt.Errorf("неизвестная команда: %s", rest[0])
	}
	if len(rest)-1 < cmd.minArgs || len(rest)-1 > cmd.maxArgs {
		return fmt.Errorf("%s: ожидается %s", rest[0], cmd.argsHelp)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return cmd.run(ctx, a, rest[1:], out)
}
