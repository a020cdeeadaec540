package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dropDatabas3/consultadmin/internal/dataprovider"
	"github.com/spf13/cobra"
)

func otpCmd(c *cli) *cobra.Command {
	otp := &cobra.Command{Use: "otp", Short: "Códigos de un solo uso"}

	var phone string
	send := &cobra.Command{
		Use:   "send",
		Short: "Pedir al backend que envíe un OTP al teléfono",
		RunE: func(cmd *cobra.Command, args []string) error {
			if phone == "" {
				return fmt.Errorf("--phone es requerido")
			}
			if err := c.auth.SendOTP(cmd.Context(), phone); err != nil {
				return c.explain(cmd.Context(), err)
			}
			return c.print(cmd, map[string]string{"status": "sent"}, "OTP enviado")
		},
	}
	send.Flags().StringVar(&phone, "phone", "", "Teléfono (ej. +5491100000000)")
	otp.AddCommand(send)
	return otp
}

func loginCmd(c *cli) *cobra.Command {
	var phone, code string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Validar el OTP y guardar la sesión",
		RunE: func(cmd *cobra.Command, args []string) error {
			if phone == "" {
				return fmt.Errorf("--phone es requerido")
			}
			if code == "" {
				fmt.Fprint(cmd.ErrOrStderr(), "OTP: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("leyendo OTP: %w", err)
				}
				code = strings.TrimSpace(line)
			}
			u, err := c.auth.Login(cmd.Context(), c.repo, phone, code)
			if err != nil {
				return c.explain(cmd.Context(), err)
			}
			return c.print(cmd, u, fmt.Sprintf("logueado como %s (%s)", displayName(u.FullName, u.PhoneNumber), u.ID))
		},
	}
	cmd.Flags().StringVar(&phone, "phone", "", "Teléfono del admin")
	cmd.Flags().StringVar(&code, "otp", "", "Código recibido (si falta se pide por stdin)")
	return cmd
}

func logoutCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Borrar la sesión local",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.auth.Logout(cmd.Context(), c.repo); err != nil {
				return err
			}
			return c.print(cmd, map[string]string{"status": "logged_out"}, "sesión cerrada")
		},
	}
}

func whoamiCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Mostrar el admin de la sesión actual",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := c.requireLogin(ctx); err != nil {
				return err
			}
			u, err := c.auth.Identity(ctx, c.repo)
			if err != nil {
				return c.explain(ctx, err)
			}
			return c.print(cmd, u, fmt.Sprintf("%s\t%s\t%s", u.ID, displayName(u.FullName, u.PhoneNumber), u.Status))
		},
	}
}

func listCmd(c *cli) *cobra.Command {
	var (
		page, perPage int
		sortField     string
		order         string
		filters       []string
		target, refID string
	)
	cmd := &cobra.Command{
		Use:   "list <resource>",
		Short: "Listar registros de un recurso",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			filter, err := parseFilters(filters)
			if err != nil {
				return err
			}
			lp := dataprovider.ListParams{
				Pagination: dataprovider.Pagination{Page: page, PerPage: perPage},
				Sort:       dataprovider.Sort{Field: sortField, Order: strings.ToUpper(order)},
				Filter:     filter,
			}
			a, err := c.adapter(ctx)
			if err != nil {
				return err
			}
			var res *dataprovider.ListResult
			if target != "" {
				res, err = a.GetManyReference(ctx, args[0], dataprovider.ManyReferenceParams{Target: target, ID: refID, ListParams: lp})
			} else {
				res, err = a.GetList(ctx, args[0], lp)
			}
			if err != nil {
				return c.explain(ctx, err)
			}
			return c.printList(cmd, res)
		},
	}
	f := cmd.Flags()
	f.IntVar(&page, "page", 1, "Página (desde 1)")
	f.IntVar(&perPage, "per-page", 25, "Registros por página")
	f.StringVar(&sortField, "sort", "", "Campo de orden")
	f.StringVar(&order, "order", dataprovider.ASC, "ASC|DESC")
	f.StringArrayVar(&filters, "filter", nil, "Filtro k=v (repetible)")
	f.StringVar(&target, "target", "", "Campo de referencia (lista los que apuntan a --id)")
	f.StringVar(&refID, "id", "", "Id referenciado por --target")
	return cmd
}

func getCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "get <resource> <id>",
		Short: "Mostrar un registro",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.adapter(ctx)
			if err != nil {
				return err
			}
			rec, err := a.GetOne(ctx, args[0], args[1])
			if err != nil {
				return c.explain(ctx, err)
			}
			return c.printRecord(cmd, rec)
		},
	}
}

func createCmd(c *cli) *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "create <resource>",
		Short: "Crear un registro",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rec, err := parseData(data)
			if err != nil {
				return err
			}
			a, err := c.adapter(ctx)
			if err != nil {
				return err
			}
			created, err := a.Create(ctx, args[0], rec)
			if err != nil {
				return c.explain(ctx, err)
			}
			return c.printRecord(cmd, created)
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "Objeto JSON con los campos")
	return cmd
}

func updateCmd(c *cli) *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "update <resource> <id>",
		Short: "Actualizar un registro",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rec, err := parseData(data)
			if err != nil {
				return err
			}
			a, err := c.adapter(ctx)
			if err != nil {
				return err
			}
			updated, err := a.Update(ctx, args[0], args[1], rec)
			if err != nil {
				return c.explain(ctx, err)
			}
			return c.printRecord(cmd, updated)
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "Objeto JSON con los campos a cambiar")
	return cmd
}

func deleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <resource> <id> [id...]",
		Short: "Borrar uno o más registros",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.adapter(ctx)
			if err != nil {
				return err
			}
			ids, err := a.DeleteMany(ctx, args[0], args[1:])
			if err != nil {
				return c.explain(ctx, err)
			}
			return c.print(cmd, map[string]any{"deleted": ids}, "borrados: "+strings.Join(ids, ", "))
		},
	}
}

func actionCmd(c *cli) *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "action <resource> <id> <action>",
		Short: "Ejecutar una acción de dominio (ej. consultations 12 cancel)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var payload dataprovider.Record
			if data != "" {
				p, err := parseData(data)
				if err != nil {
					return err
				}
				payload = p
			}
			a, err := c.adapter(ctx)
			if err != nil {
				return err
			}
			rec, err := a.Action(ctx, args[0], args[1], args[2], payload)
			if err != nil {
				return c.explain(ctx, err)
			}
			return c.printRecord(cmd, rec)
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "Payload JSON opcional")
	return cmd
}

func statsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Estadísticas del dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := c.requireLogin(ctx); err != nil {
				return err
			}
			st, err := c.stats.Stats(ctx, c.client.WithSession(c.repo), "")
			if err != nil {
				return c.explain(ctx, err)
			}
			if c.out == "json" {
				return c.print(cmd, st, "")
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "customers\t%d\n", st.Customers)
			fmt.Fprintf(w, "guides\t%d (activos %d)\n", st.Guides, st.ActiveGuides)
			fmt.Fprintf(w, "kyc pendientes\t%d\n", st.PendingKYC)
			fmt.Fprintf(w, "ofertas abiertas\t%d\n", st.OpenOffers)
			for _, s := range c.cfg.Dashboard.ConsultationStatuses {
				fmt.Fprintf(w, "consultas %s\t%d\n", s, st.Consultations[s])
			}
			fmt.Fprintf(w, "órdenes pagas\t%d\n", st.PaidOrders)
			fmt.Fprintf(w, "revenue\t%.2f\n", st.Revenue)
			return nil
		},
	}
}

// parseFilters convierte k=v a un filtro. Claves repetidas se acumulan.
func parseFilters(in []string) (map[string]any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := map[string]any{}
	for _, kv := range in {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("--filter inválido: %q (esperado k=v)", kv)
		}
		switch prev := out[k].(type) {
		case nil:
			out[k] = v
		case string:
			out[k] = []string{prev, v}
		case []string:
			out[k] = append(prev, v)
		}
	}
	return out, nil
}

func parseData(s string) (dataprovider.Record, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("--data es requerido")
	}
	var rec dataprovider.Record
	if err := json.Unmarshal([]byte(s), &rec); err != nil {
		return nil, fmt.Errorf("--data no es un objeto JSON: %w", err)
	}
	return rec, nil
}

func displayName(name, phone string) string {
	if name != "" {
		return name
	}
	return phone
}
