// Package gatt holds the per-connection GATT state of a central: the discovered
// service tree, the serializing transaction queue and the notification registry.
package gatt
