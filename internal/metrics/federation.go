package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Métricas de federación. Viven en un paquete aparte para que federation y
// http puedan usarlas sin ciclos de import.

var (
	LoginsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "federation_logins_total",
		Help: "Logins federados completados, por proveedor y resultado",
	}, []string{"provider", "result"})

	RefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "federation_refresh_total",
		Help: "Refresh de tokens de terceros, por proveedor y resultado",
	}, []string{"provider", "result"})

	ProfileConflictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "federation_profile_conflicts_total",
		Help: "Logins rechazados porque el perfil pertenece a otro proveedor",
	}, []string{"provider"})
)

// Register registra las métricas de federación y HTTP (o en el default si reg es nil).
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		LoginsTotal, RefreshTotal, ProfileConflictsTotal,
		HTTPRequestsTotal, HTTPRequestDuration, HTTPInflight,
	} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}

// Result traduce un error a la etiqueta result.
func Result(err error) string {
	if err == nil {
		return "success"
	}
	return "failure"
}
