package engine

import "qms/clinic-queue-service/internal/models"

// CanCancel reports whether actor may cancel ticket: only the patient the
// ticket was issued to.
func CanCancel(actor models.Actor, ticket models.Ticket) bool {
	switch actor.Role {
	case models.RolePatient:
		return actor.ID != "" && ticket.PatientID == actor.ID
	case models.RoleStaff:
		return false
	default:
		return false
	}
}

// CanManage reports whether actor may administer queue and move its tickets.
// A queue with an owning staff member is managed by that member only;
// otherwise any staff member of the owning clinic qualifies.
func CanManage(actor models.Actor, queue models.Queue) bool {
	switch actor.Role {
	case models.RoleStaff:
		if queue.StaffID != "" {
			return actor.ID == queue.StaffID
		}
		return actor.ClinicID != "" && actor.ClinicID == queue.ClinicID
	case models.RolePatient:
		return false
	default:
		return false
	}
}
