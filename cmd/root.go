// Package cmd implements the prospecto command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "prospecto",
	Short: "Chat sobre prospectos oficiales de medicamentos",
	Long: `Prospecto busca medicamentos en el registro público CIMA (AEMPS),
descarga el prospecto oficial del medicamento seleccionado y responde
preguntas basándose exclusivamente en ese texto.

Sin argumentos entra en modo de conversación interactivo.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConsole(cmd.Context())
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
