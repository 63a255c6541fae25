// Package mqtt publishes farmlink's state to an MQTT broker: an
// availability topic backed by a will message, retained snapshots of
// the model server's health and the last reconciliation, and a
// periodic status document.
//
// Connection management uses Eclipse Paho v2's [autopaho] package,
// which reconnects on its own. Retained snapshots are re-sent on every
// (re-)connect so a broker restart does not lose them.
//
// Topics live under farmlink/<device_name>/:
//
//	availability          online | offline (retained)
//	status                periodic JSON status (retained)
//	llamafarm/health      last health transition (retained)
//	llamafarm/reconcile   last reconciliation result (retained)
//	gateway               host lifecycle events
package mqtt
