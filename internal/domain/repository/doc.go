// Package repository define las interfaces de persistencia del dominio de federación.
//
// Dos keyspaces de tokens independientes (interno y de terceros) comparten la
// interfaz TokenStore; los perfiles locales viven en ProfileRepository.
//
// Las implementaciones concretas viven en internal/store/pg y internal/store/memory.
//
// Convenciones:
//   - Context siempre es el primer parámetro
//   - Lookups por clave única retornan ErrNotFound si no hay fila
//   - Cada operación es atómica
package repository
