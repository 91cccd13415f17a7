// Package device holds the shared vocabulary of the BLE central client.
//
// It defines:
//   - The error kinds every public operation resolves with
//   - Strongly typed GATT UUIDs and their parsing rules
//   - Scan records (Peripheral, Sighting, Discovery)
//   - Discovered GATT layouts (ServiceDef, CharacteristicDef)
//   - The Radio boundary that platform backends implement
package device
