package actor

// Breakdown is the payload of a BREAKDOWN message. The internal probability
// check and external injection produce the same value. An empty Fault lets
// the vehicle draw one.
type Breakdown struct {
	Fault string
}

// CrewArrival is the payload of CREW_ARRIVED.
type CrewArrival struct {
	ContractID string
	Crew       string
}

// RepairDone is the payload of REPAIR_COMPLETE.
type RepairDone struct {
	ContractID string
	Crew       string
	Fault      string
}

// VehicleArrival is the payload of VEHICLE_ARRIVED sent to a station.
type VehicleArrival struct {
	ContractID string
	Vehicle    string
	Seats      int
}

// Boarding is the payload of BOARDED sent back by the station.
type Boarding struct {
	Station    string
	Passengers int
}
