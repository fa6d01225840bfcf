package main

import "time"

// Host procedures (advanced scene switcher proc handler)
const (
	procRegisterAction      = "advss_register_script_action"
	procRegisterCondition   = "advss_register_script_condition"
	procDeregisterAction    = "advss_deregister_script_action"
	procDeregisterCondition = "advss_deregister_script_condition"
	procRegisterTempVar     = "advss_register_temp_var"
	procSetTempVarValue     = "advss_set_temp_var_value"
	procGetVariableValue    = "advss_get_variable_value"
	procSetVariableValue    = "advss_set_variable_value"
)

// Call data field names shared by procedures and signals
const (
	fieldSuccess         = "success"
	fieldName            = "name"
	fieldValue           = "value"
	fieldDefaultSettings = "default_settings"

	fieldTriggerSignal     = "trigger_signal_name"
	fieldPropertiesSignal  = "properties_signal_name"
	fieldNewInstanceSignal = "new_instance_signal_name"

	fieldCompletionSignal = "completion_signal_name"
	fieldCompletionID     = "completion_id"
	fieldInstanceID       = "instance_id"
	fieldSettings         = "settings"
	fieldProperties       = "properties"
	fieldResult           = "result"

	fieldTempVarID   = "temp_var_id"
	fieldTempVarName = "temp_var_name"
	fieldTempVarHelp = "temp_var_help"
)

// Defaults
const (
	defaultHostWsURL          = "ws://127.0.0.1:4456/advss"
	defaultHostTimeoutMS      = 2000 // Procedure call timeout (ms)
	defaultHandshakeTimeoutMS = 2000 // Websocket handshake timeout (ms)
	defaultConnectAttempts    = 10   // Initial connection attempts before giving up
	defaultCallbackTimeoutMS  = 0    // 0 = wait for callbacks indefinitely
	defaultIPCSocketPath      = "/tmp/advss-sound.sock"
	defaultSoundActionName    = "Sound"
	defaultExpressionName     = "Expression"
	defaultLogLevel           = "info"

	connectRetryDelay = 500 * time.Millisecond
	shutdownGrace     = 3 * time.Second
)

// Host websocket keepalive
const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)
