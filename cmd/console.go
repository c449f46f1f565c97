package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/aluque/prospecto/internal/config"
	"github.com/aluque/prospecto/internal/log"
	"github.com/aluque/prospecto/internal/registry"
	"github.com/aluque/prospecto/internal/session"
)

// console drives one interactive session over stdin/stdout.
type console struct {
	app     *app
	session *session.Session

	// view state: the filter is a projection over the session's full
	// result set, applied when results are listed and selected.
	filter  registry.Filter
	visible []registry.Product
}

func runConsole(ctx context.Context) error {
	logger := log.New(log.Config{Level: envLogLevel()})

	a, err := setup(ctx, logger)
	if err != nil {
		if errors.Is(err, config.ErrMissingAPIKey) {
			fmt.Fprintln(os.Stderr, "Error: la variable de entorno GEMINI_API_KEY no está definida.")
			fmt.Fprintln(os.Stderr, "  export GEMINI_API_KEY=tu-clave")
		}
		return err
	}

	c := &console{
		app:     a,
		session: a.store.Create(),
		filter:  registry.FilterAll,
	}
	return c.run(ctx)
}

func (c *console) run(ctx context.Context) error {
	fmt.Println("Prospecto — chat sobre prospectos oficiales (CIMA / AEMPS)")
	fmt.Println("Escribe /help para ver los comandos disponibles.")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println("\nHasta luego.")
			return scanner.Err()
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if c.handleCommand(ctx, input) {
				fmt.Println("Hasta luego.")
				return nil
			}
			continue
		}

		c.chatTurn(ctx, input)
	}
}

// handleCommand dispatches a slash command; returns true to exit.
func (c *console) handleCommand(ctx context.Context, input string) bool {
	parts := strings.Fields(input)
	cmd, args := parts[0], parts[1:]

	switch cmd {
	case "/help":
		fmt.Println("Comandos:")
		fmt.Println("  /search <nombre>         busca medicamentos en CIMA")
		fmt.Println("  /filter all|generic|brand  filtra los resultados")
		fmt.Println("  /select <n>              selecciona un resultado y carga su prospecto")
		fmt.Println("  /clear                   borra la conversación actual")
		fmt.Println("  /exit                    sale del programa")
		fmt.Println("Cualquier otro texto se envía como pregunta sobre el prospecto cargado.")

	case "/search":
		c.doSearch(ctx, strings.Join(args, " "))

	case "/filter":
		c.doFilter(args)

	case "/select":
		c.doSelect(ctx, args)

	case "/clear":
		c.session.ClearChat()
		fmt.Println("Conversación borrada.")

	case "/exit", "/quit":
		return true

	default:
		fmt.Printf("Comando desconocido: %s (usa /help)\n", cmd)
	}
	return false
}

func (c *console) doSearch(ctx context.Context, query string) {
	results, err := c.session.Search(ctx, c.app.registry, query)
	if err != nil {
		fmt.Println("Indica un nombre: /search ibuprofeno")
		return
	}
	c.visible = c.filter.Apply(results)
	c.printResults()
}

func (c *console) doFilter(args []string) {
	if len(args) != 1 {
		fmt.Println("Uso: /filter all|generic|brand")
		return
	}
	f := registry.Filter(args[0])
	if !f.Valid() {
		fmt.Printf("Filtro desconocido: %s\n", args[0])
		return
	}
	c.filter = f
	c.visible = c.filter.Apply(c.session.Results())
	c.printResults()
}

func (c *console) printResults() {
	if len(c.visible) == 0 {
		fmt.Println("Sin resultados.")
		return
	}
	for i, p := range c.visible {
		fmt.Printf("  %d. %s\n", i+1, p.Display())
	}
	fmt.Println("Usa /select <n> para elegir uno.")
}

func (c *console) doSelect(ctx context.Context, args []string) {
	idx, err := parseSelection(args, len(c.visible))
	if err != nil {
		fmt.Println(err)
		return
	}

	product := c.visible[idx]
	fmt.Printf("Descargando el prospecto de %s...\n", product.Display())

	err = c.session.Select(ctx, c.app.fetcher, product.RegistrationID)
	switch {
	case errors.Is(err, session.ErrLeafletUnavailable):
		fmt.Println("Este medicamento no tiene prospecto en texto.")
	case err != nil:
		fmt.Printf("No se pudo seleccionar: %v\n", err)
	default:
		fmt.Println("Prospecto cargado. Pregunta lo que quieras sobre él.")
	}
}

// parseSelection validates a 1-based /select argument against the number
// of visible results.
func parseSelection(args []string, visible int) (int, error) {
	if len(args) != 1 {
		return 0, errors.New("Uso: /select <n>")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > visible {
		if visible == 0 {
			return 0, errors.New("No hay resultados; usa /search primero.")
		}
		return 0, fmt.Errorf("Elige un número entre 1 y %d.", visible)
	}
	return n - 1, nil
}

func (c *console) chatTurn(ctx context.Context, input string) {
	cb := func(_ context.Context, fragment string) error {
		fmt.Print(fragment)
		return nil
	}

	_, err := c.session.SendMessage(ctx, c.app.engine, input, cb)
	switch {
	case errors.Is(err, session.ErrNotGrounded):
		fmt.Println("Primero selecciona un medicamento con prospecto (/search y /select).")
	case err != nil:
		fmt.Printf("\nError generando la respuesta: %v\n", err)
	default:
		fmt.Println()
	}
}
